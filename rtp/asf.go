package rtp

import "fmt"

// asfDepacketizer reassembles ASF-in-RTP payloads (draft-dunagan-asf-rtp),
// whose per-packet header carries L (last), R, D, I flags and a 3-byte
// length-or-offset field (spec.md §4.D.5). When a packet's L bit is clear
// the payload continues a reassembly buffer sized to the larger of the
// fragment size and the negotiated nMaxASFPacket; when L is set the
// previous buffer is finalized and timestamped and the current
// single-fragment payload is emitted as-is.
type asfDepacketizer struct {
	maxASFPacket int

	reassembly   []byte
	reassembling bool
	startTS      uint32
}

func newASFDepacketizer(cfg CodecConfig) *asfDepacketizer {
	return &asfDepacketizer{maxASFPacket: cfg.MaxASFPacketSize}
}

func (d *asfDepacketizer) Kind() CodecKind { return CodecASF }

type asfRTPHeader struct {
	last   bool // L
	r      bool
	d      bool // D: discontinuity
	i      bool // I
	offset int  // 3-byte length-or-offset field
}

func parseASFRTPHeader(b []byte) (asfRTPHeader, int, error) {
	if len(b) < 4 {
		return asfRTPHeader{}, 0, fmt.Errorf("rtp: asf: payload shorter than header")
	}
	flags := b[0]
	h := asfRTPHeader{
		last: flags&0x08 != 0,
		r:    flags&0x04 != 0,
		d:    flags&0x02 != 0,
		i:    flags&0x01 != 0,
	}
	h.offset = int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	return h, 4, nil
}

func (d *asfDepacketizer) Depacketize(pkt Packet) ([]Reassembled, error) {
	hdr, headerLen, err := parseASFRTPHeader(pkt.Payload)
	if err != nil {
		return nil, err
	}
	fragment := pkt.Payload[headerLen:]

	if !hdr.last {
		capHint := len(fragment)
		if d.maxASFPacket > capHint {
			capHint = d.maxASFPacket
		}
		if !d.reassembling {
			buf := make([]byte, 0, capHint)
			d.reassembly = buf
			d.reassembling = true
			d.startTS = pkt.Timestamp
		}
		d.reassembly = appendGeometric(d.reassembly, fragment)
		return nil, nil
	}

	var out []Reassembled
	if d.reassembling {
		finished := appendGeometric(d.reassembly, nil)
		out = append(out, Reassembled{Timestamp: d.startTS, Payload: finished})
		d.reassembly = nil
		d.reassembling = false
	}
	out = append(out, Reassembled{Timestamp: pkt.Timestamp, Payload: append([]byte(nil), fragment...)})
	return out, nil
}
