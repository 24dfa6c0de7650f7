package rtp

import "fmt"

// vc1Frag is the two-bit FRAG field of the draft-ietf-avt-rtp-vc1 payload
// header that drives reassembly (spec.md §4.D.5).
type vc1Frag int

const (
	vc1FragMid      vc1Frag = 0
	vc1FragFirst    vc1Frag = 1
	vc1FragLast     vc1Frag = 2
	vc1FragComplete vc1Frag = 3
)

// vc1Depacketizer reassembles VC-1-over-RTP fragments using the two-bit
// FRAG field in the first payload byte.
type vc1Depacketizer struct {
	reassembly   []byte
	reassembling bool
	startTS      uint32
}

func newVC1Depacketizer() *vc1Depacketizer { return &vc1Depacketizer{} }

func (d *vc1Depacketizer) Kind() CodecKind { return CodecVC1 }

func (d *vc1Depacketizer) Depacketize(pkt Packet) ([]Reassembled, error) {
	if len(pkt.Payload) < 1 {
		return nil, fmt.Errorf("rtp: vc1: empty payload")
	}
	frag := vc1Frag((pkt.Payload[0] >> 6) & 0x03)
	body := pkt.Payload[1:]

	switch frag {
	case vc1FragComplete:
		return []Reassembled{{Timestamp: pkt.Timestamp, Payload: append([]byte(nil), body...)}}, nil

	case vc1FragFirst:
		d.reassembly = appendGeometric(nil, body)
		d.reassembling = true
		d.startTS = pkt.Timestamp
		return nil, nil

	case vc1FragMid:
		if !d.reassembling {
			return nil, fmt.Errorf("rtp: vc1: mid fragment with no first fragment")
		}
		d.reassembly = appendGeometric(d.reassembly, body)
		return nil, nil

	case vc1FragLast:
		if !d.reassembling {
			return nil, fmt.Errorf("rtp: vc1: last fragment with no first fragment")
		}
		d.reassembly = appendGeometric(d.reassembly, body)
		complete := d.reassembly
		d.reassembly = nil
		d.reassembling = false
		return []Reassembled{{Timestamp: d.startTS, Payload: complete}}, nil
	}
	return nil, fmt.Errorf("rtp: vc1: unreachable frag value %d", frag)
}
