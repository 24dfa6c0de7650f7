package rtp

import "fmt"

// h263Depacketizer strips the RFC 4629 payload header and prepends an
// H.263 picture start code when the payload begins a new picture
// (spec.md §4.D.5: "strip payload header, preserve P/V flags, prepend a
// two-byte start code when P=1").
type h263Depacketizer struct{}

func newH263Depacketizer() *h263Depacketizer { return &h263Depacketizer{} }

func (d *h263Depacketizer) Kind() CodecKind { return CodecH263 }

// h263StartCode is the PSC/GOB-equivalent two-byte marker this
// depacketizer prepends for payloads whose header signals the start of a
// new coded picture.
var h263StartCode = []byte{0x00, 0x00}

func (d *h263Depacketizer) Depacketize(pkt Packet) ([]Reassembled, error) {
	if len(pkt.Payload) < 2 {
		return nil, fmt.Errorf("rtp: h263: payload shorter than mandatory header")
	}
	header := pkt.Payload[:2]
	p := header[0]&0x04 != 0
	v := header[0]&0x02 != 0

	headerLen := 2
	if v {
		headerLen = 3 // VRC extension byte follows
	}
	if len(pkt.Payload) < headerLen {
		return nil, fmt.Errorf("rtp: h263: payload shorter than signaled header")
	}
	body := pkt.Payload[headerLen:]

	var out []byte
	if p {
		out = make([]byte, 0, len(h263StartCode)+len(body))
		out = append(out, h263StartCode...)
		out = append(out, body...)
	} else {
		out = body
	}

	return []Reassembled{{Timestamp: pkt.Timestamp, Payload: out}}, nil
}
