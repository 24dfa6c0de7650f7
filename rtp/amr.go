package rtp

import "fmt"

// amrNBFrameSizes is the RFC 3267 table of AMR-NB frame sizes in bytes
// (speech data only, excluding the TOC byte) indexed by frame type 0..8,
// plus FT 15 (SID/NO_DATA handled separately).
var amrNBFrameSizes = [9]int{12, 13, 15, 17, 19, 20, 26, 31, 5}

// amrWBFrameSizes is the RFC 3267 table for AMR-WB, frame types 0..9.
var amrWBFrameSizes = [10]int{17, 23, 32, 36, 40, 46, 50, 58, 60, 5}

// amrDepacketizer reassembles RFC 3267 octet-aligned AMR-NB/WB payloads:
// a run of TOC bytes (F=1 continues, F=0 terminates) followed by that many
// speech frames back to back, which this depacketizer rewrites as
// interleaved header-then-frame pairs (spec.md §4.D.5).
type amrDepacketizer struct {
	wideband bool
}

func newAMRDepacketizer(wideband bool) *amrDepacketizer {
	return &amrDepacketizer{wideband: wideband}
}

func (d *amrDepacketizer) Kind() CodecKind {
	if d.wideband {
		return CodecAMRWB
	}
	return CodecAMRNB
}

// samplesPerFrame is 20ms worth of RTP timestamp ticks at AMR's 8kHz (NB)
// or 16kHz (WB) clock: 160 or 320 samples per frame; spec.md's worked
// example (scenario 5) uses the 8kHz NB case: 160*10_000_000/8000.
func (d *amrDepacketizer) samplesPerFrame() uint32 {
	if d.wideband {
		return 320
	}
	return 160
}

func (d *amrDepacketizer) Depacketize(pkt Packet) ([]Reassembled, error) {
	buf := pkt.Payload
	if len(buf) == 0 {
		return nil, nil
	}

	// CMR (codec mode request) is the first byte; the TOC run follows.
	pos := 1

	type toc struct {
		ft int
		q  bool
	}
	var tocs []toc
	for pos < len(buf) {
		b := buf[pos]
		pos++
		f := b&0x80 != 0
		ft := int(b>>3) & 0x0F
		q := b&0x04 != 0
		tocs = append(tocs, toc{ft: ft, q: q})
		if !f {
			break
		}
	}

	out := make([]Reassembled, 0, len(tocs))
	ts := pkt.Timestamp
	for _, t := range tocs {
		var size int
		switch {
			case t.ft == 15:
				size = 0 // NO_DATA: header only
			case !d.wideband && t.ft >= 0 && t.ft <= 8:
				size = amrNBFrameSizes[t.ft]
			case d.wideband && t.ft >= 0 && t.ft <= 9:
				size = amrWBFrameSizes[t.ft]
			default:
				return out, fmt.Errorf("rtp: amr: unsupported frame type %d", t.ft)
		}
		if pos+size > len(buf) {
			return out, fmt.Errorf("rtp: amr: truncated frame (need %d, have %d)", size, len(buf)-pos)
		}
		frame := make([]byte, 1+size)
		frame[0] = byte(t.ft<<3) & 0x78
		if t.q {
			frame[0] |= 0x04
		}
		copy(frame[1:], buf[pos:pos+size])
		pos += size

		out = append(out, Reassembled{Timestamp: ts, Payload: frame})
		ts += d.samplesPerFrame()
	}
	return out, nil
}
