package rtp

import "fmt"

// latmInitialBufSize and latmMaxBufSize bound the geometric growth of the
// cross-packet AudioMuxElement reassembly buffer (spec.md §4.D.5 /
// §9 "per-stream reassembly buffer growth ... geometric growth with a hard
// cap; overflow returns NoMemory rather than aborting").
const (
	latmInitialBufSize = 4 << 10
	latmMaxBufSize     = 256 << 10
)

// aacLATMDepacketizer reassembles RFC 3016 MPEG-4 LATM/LOAS-in-RTP AAC.
// Every RTP payload is read as one length-info prefix followed by
// AudioMuxElement bytes; the bytes after the prefix are appended to the
// reassembly buffer and emitted as one unit when the marker bit is set.
// Several frames packed into one payload are not split apart.
type aacLATMDepacketizer struct {
	cpresent bool // SDP fmtp "cpresent=1": StreamMuxConfig present per-frame

	reassembly      []byte
	reassembling    bool
	fragmentTS      uint32
}

func newAACLATMDepacketizer(cfg CodecConfig) *aacLATMDepacketizer {
	return &aacLATMDepacketizer{cpresent: cfg.CPresent}
}

func (d *aacLATMDepacketizer) Kind() CodecKind { return CodecAACLATM }

// readLATMLength reads a LOAS-style length-info: a sequence of bytes whose
// full 8-bit values are summed into the total length, continuing while the
// value 0xFF is seen.
func readLATMLength(buf []byte) (length, consumed int, err error) {
	for _, b := range buf {
		length += int(b)
		consumed++
		if b != 0xFF {
			return length, consumed, nil
		}
	}
	return 0, 0, fmt.Errorf("rtp: aac-latm: length-info ran past end of payload")
}

func (d *aacLATMDepacketizer) Depacketize(pkt Packet) ([]Reassembled, error) {
	buf := pkt.Payload
	if len(buf) == 0 {
		return nil, nil
	}

	length, consumed, err := readLATMLength(buf)
	if err != nil {
		return nil, err
	}
	if consumed > len(buf) {
		return nil, fmt.Errorf("rtp: aac-latm: length-info exceeds payload")
	}
	fragment := buf[consumed:]

	if !d.reassembling {
		d.reassembly = make([]byte, 0, latmInitialBufSize)
		d.reassembling = true
		d.fragmentTS = pkt.Timestamp
	}
	if len(d.reassembly)+len(fragment) > latmMaxBufSize {
		d.reassembling = false
		d.reassembly = nil
		return nil, fmt.Errorf("rtp: aac-latm: reassembly buffer overflow (cap %d bytes)", latmMaxBufSize)
	}
	d.reassembly = appendGeometric(d.reassembly, fragment)

	if !pkt.Marker {
		// AudioMuxElement continues in a subsequent packet.
		return nil, nil
	}

	complete := d.reassembly
	_ = length // length is the declared total; complete is what we actually collected
	d.reassembly = nil
	d.reassembling = false

	return []Reassembled{{Timestamp: d.fragmentTS, Payload: complete}}, nil
}

// appendGeometric appends src to dst, growing dst's capacity geometrically
// (doubling) rather than exactly-to-fit, to avoid repeated reallocation
// across many small fragments.
func appendGeometric(dst, src []byte) []byte {
	need := len(dst) + len(src)
	if cap(dst) < need {
		newCap := cap(dst)
		if newCap == 0 {
			newCap = latmInitialBufSize
		}
		for newCap < need {
			newCap *= 2
		}
		grown := make([]byte, len(dst), newCap)
		copy(grown, dst)
		dst = grown
	}
	return append(dst, src...)
}
