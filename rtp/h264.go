package rtp

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// H.264 NAL unit type field values relevant to RFC 3984 payload framing.
const (
	nalTypeSTAPA  = 24
	nalTypeSTAPB  = 25
	nalTypeMTAP16 = 26
	nalTypeMTAP24 = 27
	nalTypeFUA    = 28
	nalTypeFUB    = 29
)

// h264AnnexBStartCode is prepended to every emitted NAL so downstream
// parsers see a conventional Annex-B byte stream.
var h264AnnexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// h264Depacketizer implements RFC 3984's full NAL framing repertoire:
// single NALU passthrough, STAP-A/B and MTAP aggregation, FU-A/FU-B
// fragmentation, and the DON-based deinterleaving queue used by B-mode
// and FU-B streams (spec.md §4.D.5).
type h264Depacketizer struct {
	spropParameterSets []string // decoded SPS/PPS NALs from SDP fmtp, emitted once up front

	// FU-A/FU-B fragmentation state. RFC 3984 requires contiguous
	// sequence numbers across a fragmented NAL; any gap drops the NAL in
	// progress (spec.md scenario 6).
	fuReassembly   []byte
	fuReassembling bool
	fuLastExtSeq   uint64
	fuStartTS      uint32
	fuPendingDON   uint16
	lostPackets    int

	// Deinterleaving (STAP-B / MTAP / FU-B) queue and DON tracking.
	deinterleave       []deinterleaveEntry
	prevDeliveredDON   uint16
	haveDelivered      bool
	interleavingDepth  int // sprop-interleaving-depth: N VCL NALs to buffer
	maxDonDiff         int // sprop-max-don-diff
	sentSPSPPS         bool
}

type deinterleaveEntry struct {
	donBase uint16
	don     uint16
	absDon  int64
	payload []byte
	ts      uint32
}

func newH264Depacketizer(cfg CodecConfig) *h264Depacketizer {
	d := &h264Depacketizer{
		interleavingDepth: cfg.SpropInterleavingDepth,
		maxDonDiff:        cfg.SpropMaxDonDiff,
	}
	if cfg.SpropParameterSets != "" {
		for _, part := range strings.Split(cfg.SpropParameterSets, ",") {
			if part == "" {
				continue
			}
			if nal, err := base64.StdEncoding.DecodeString(part); err == nil {
				d.spropParameterSets = append(d.spropParameterSets, string(nal))
			}
		}
	}
	return d
}

func (d *h264Depacketizer) Kind() CodecKind { return CodecH264 }

// LostPackets returns the count of FU fragmentation chains dropped due to
// a sequence-number gap (spec.md §8, scenario 6).
func (d *h264Depacketizer) LostPackets() int { return d.lostPackets }

func annexB(nal []byte) []byte {
	out := make([]byte, 0, len(h264AnnexBStartCode)+len(nal))
	out = append(out, h264AnnexBStartCode...)
	out = append(out, nal...)
	return out
}

// leadingParameterSets emits the SPS/PPS recovered from SDP fmtp once,
// ahead of the first reassembled NAL, so downstream parsers that expect
// an in-band parameter set (rather than out-of-band config) still work.
func (d *h264Depacketizer) leadingParameterSets(ts uint32) []Reassembled {
	if d.sentSPSPPS || len(d.spropParameterSets) == 0 {
		return nil
	}
	d.sentSPSPPS = true
	out := make([]Reassembled, 0, len(d.spropParameterSets))
	for _, nal := range d.spropParameterSets {
		out = append(out, Reassembled{Timestamp: ts, Payload: annexB([]byte(nal))})
	}
	return out
}

func (d *h264Depacketizer) Depacketize(pkt Packet) ([]Reassembled, error) {
	if len(pkt.Payload) == 0 {
		return nil, fmt.Errorf("rtp: h264: empty payload")
	}
	nalType := pkt.Payload[0] & 0x1F

	switch {
	case nalType >= 1 && nalType <= 23:
		out := d.leadingParameterSets(pkt.Timestamp)
		out = append(out, Reassembled{Timestamp: pkt.Timestamp, Payload: annexB(pkt.Payload)})
		return out, nil

	case nalType == nalTypeSTAPA:
		return d.depacketizeSTAPA(pkt)

	case nalType == nalTypeSTAPB:
		return d.depacketizeAggregateWithDON(pkt, true)

	case nalType == nalTypeMTAP16, nalType == nalTypeMTAP24:
		return d.depacketizeMTAP(pkt, nalType == nalTypeMTAP24)

	case nalType == nalTypeFUA:
		return d.depacketizeFU(pkt, false)

	case nalType == nalTypeFUB:
		return d.depacketizeFU(pkt, true)

	default:
		return nil, fmt.Errorf("rtp: h264: unsupported NAL type %d", nalType)
	}
}

// depacketizeSTAPA unpacks a STAP-A aggregate: a run of {2-byte size, NAL}
// entries with no DON, emitted immediately in arrival order.
func (d *h264Depacketizer) depacketizeSTAPA(pkt Packet) ([]Reassembled, error) {
	buf := pkt.Payload[1:]
	out := d.leadingParameterSets(pkt.Timestamp)
	for len(buf) > 2 {
		size := int(buf[0])<<8 | int(buf[1])
		buf = buf[2:]
		if size > len(buf) {
			return out, fmt.Errorf("rtp: h264: stap-a nal size %d exceeds remaining payload", size)
		}
		out = append(out, Reassembled{Timestamp: pkt.Timestamp, Payload: annexB(buf[:size])})
		buf = buf[size:]
	}
	return out, nil
}

// depacketizeMTAP unpacks MTAP16/MTAP24: like STAP-A but each entry also
// carries a DON and a timestamp offset; entries go through the same
// DON-ordered deinterleaving queue as STAP-B.
func (d *h264Depacketizer) depacketizeMTAP(pkt Packet, don24 bool) ([]Reassembled, error) {
	buf := pkt.Payload[1:]
	if len(buf) < 2 {
		return nil, fmt.Errorf("rtp: h264: mtap payload too short")
	}
	donBase := uint16(buf[0])<<8 | uint16(buf[1])
	buf = buf[2:]

	var released []Reassembled
	for len(buf) > 2 {
		size := int(buf[0])<<8 | int(buf[1])
		buf = buf[2:]
		if size > len(buf) {
			return released, fmt.Errorf("rtp: h264: mtap nal size %d exceeds remaining payload", size)
		}
		entry := buf[:size]
		buf = buf[size:]

		donHeaderLen := 2
		if don24 {
			donHeaderLen = 3
		}
		if len(entry) < donHeaderLen {
			return released, fmt.Errorf("rtp: h264: mtap entry shorter than DON header")
		}
		donDiff := uint16(entry[0])<<8 | uint16(entry[1])
		nal := entry[donHeaderLen:]

		don := donBase + donDiff
		released = append(released, d.enqueueDON(donBase, don, pkt.Timestamp, nal)...)
	}
	return released, nil
}

// depacketizeAggregateWithDON handles STAP-B: one DON for the whole
// aggregate, covering exactly one NAL.
func (d *h264Depacketizer) depacketizeAggregateWithDON(pkt Packet, _ bool) ([]Reassembled, error) {
	buf := pkt.Payload[1:]
	if len(buf) < 2 {
		return nil, fmt.Errorf("rtp: h264: stap-b payload too short")
	}
	don := uint16(buf[0])<<8 | uint16(buf[1])
	nal := buf[2:]
	return d.enqueueDON(don, don, pkt.Timestamp, nal), nil
}

// depacketizeFU handles FU-A (no DON) and FU-B (DON on the start
// fragment only). Fragmentation requires contiguous extended sequence
// numbers; any gap drops the in-progress NAL (spec.md scenario 6).
func (d *h264Depacketizer) depacketizeFU(pkt Packet, hasDON bool) ([]Reassembled, error) {
	if len(pkt.Payload) < 2 {
		return nil, fmt.Errorf("rtp: h264: fu payload too short")
	}
	indicator := pkt.Payload[0]
	fuHeader := pkt.Payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	nalType := fuHeader & 0x1F
	reconstructedHeader := (indicator & 0xE0) | nalType

	headerLen := 2
	var don uint16
	if hasDON {
		if len(pkt.Payload) < 4 {
			return nil, fmt.Errorf("rtp: h264: fu-b payload too short for DON")
		}
		if start {
			don = uint16(pkt.Payload[2])<<8 | uint16(pkt.Payload[3])
		}
		headerLen = 4
	}
	fragment := pkt.Payload[headerLen:]

	if start {
		d.fuReassembly = append(make([]byte, 0, len(fragment)+1), reconstructedHeader)
		d.fuReassembly = appendGeometric(d.fuReassembly, fragment)
		d.fuReassembling = true
		d.fuLastExtSeq = pkt.ExtSeq
		d.fuStartTS = pkt.Timestamp
		if hasDON {
			d.fuPendingDON = don
		}
		return nil, nil
	}

	if !d.fuReassembling {
		return nil, fmt.Errorf("rtp: h264: fu continuation with no start fragment")
	}
	if pkt.ExtSeq != d.fuLastExtSeq+1 {
		d.lostPackets++
		d.fuReassembling = false
		d.fuReassembly = nil
		return nil, fmt.Errorf("rtp: h264: dropped fragmented NAL: sequence gap (expected %d, got %d)", d.fuLastExtSeq+1, pkt.ExtSeq)
	}
	d.fuLastExtSeq = pkt.ExtSeq
	d.fuReassembly = appendGeometric(d.fuReassembly, fragment)

	if !end {
		return nil, nil
	}

	complete := d.fuReassembly
	d.fuReassembly = nil
	d.fuReassembling = false

	if hasDON {
		return d.enqueueDON(d.fuPendingDON, d.fuPendingDON, d.fuStartTS, complete), nil
	}
	out := d.leadingParameterSets(d.fuStartTS)
	out = append(out, Reassembled{Timestamp: d.fuStartTS, Payload: annexB(complete)})
	return out, nil
}

// enqueueDON adds a DON-bearing NAL to the deinterleaving queue and
// releases whatever the buffering policy now allows (spec.md §4.D.5/§8).
func (d *h264Depacketizer) enqueueDON(donBase, don uint16, ts uint32, nal []byte) []Reassembled {
	absDon := d.absoluteDON(don)
	d.deinterleave = append(d.deinterleave, deinterleaveEntry{
		donBase: donBase,
		don:     don,
		absDon:  absDon,
		payload: append([]byte(nil), nal...),
		ts:      ts,
	})
	return d.drainDeinterleave(false)
}

// absoluteDON extends the 16-bit DON field using the last delivered DON as
// a reference point, the same rollover technique SequenceExtender uses for
// RTP sequence numbers.
func (d *h264Depacketizer) absoluteDON(don uint16) int64 {
	if !d.haveDelivered {
		return int64(don)
	}
	diff := int32(don) - int32(d.prevDeliveredDON)
	if diff < -32768 {
		diff += 65536
	} else if diff > 32768 {
		diff -= 65536
	}
	return int64(d.prevDeliveredDON) + int64(diff)
}

// drainDeinterleave releases buffered NALs once N are queued
// (sprop-interleaving-depth) or the spread of absolute DONs exceeds
// sprop-max-don-diff. force releases everything regardless of that policy;
// the only caller, enqueueDON, passes false. Release order always
// picks the entry minimizing (absDon - prevDeliveredDON) mod 2^16.
func (d *h264Depacketizer) drainDeinterleave(force bool) []Reassembled {
	var out []Reassembled
	for {
		if len(d.deinterleave) == 0 {
			return out
		}
		if !force && !d.deinterleaveReleaseDue() {
			return out
		}
		idx := d.minDonDistanceIndex()
		entry := d.deinterleave[idx]
		d.deinterleave = append(d.deinterleave[:idx], d.deinterleave[idx+1:]...)
		d.prevDeliveredDON = entry.don
		d.haveDelivered = true
		out = append(out, d.leadingParameterSets(entry.ts)...)
		out = append(out, Reassembled{Timestamp: entry.ts, Payload: annexB(entry.payload)})
		if !force {
			return out
		}
	}
}

func (d *h264Depacketizer) deinterleaveReleaseDue() bool {
	if d.interleavingDepth > 0 && len(d.deinterleave) >= d.interleavingDepth {
		return true
	}
	if d.maxDonDiff > 0 {
		lo, hi := d.deinterleave[0].absDon, d.deinterleave[0].absDon
		for _, e := range d.deinterleave[1:] {
			if e.absDon < lo {
				lo = e.absDon
			}
			if e.absDon > hi {
				hi = e.absDon
			}
		}
		if int(hi-lo) > d.maxDonDiff {
			return true
		}
	}
	return false
}

// minDonDistanceIndex returns the index of the buffered entry minimizing
// (absDon - prevDeliveredDON) mod 2^16, i.e. the next NAL in decode order
// (spec.md §8 invariant).
func (d *h264Depacketizer) minDonDistanceIndex() int {
	best := 0
	bestDist := donDistance(d.deinterleave[0].don, d.prevDeliveredDON, d.haveDelivered)
	for i := 1; i < len(d.deinterleave); i++ {
		dist := donDistance(d.deinterleave[i].don, d.prevDeliveredDON, d.haveDelivered)
		if dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return best
}

func donDistance(don, prevDon uint16, haveDelivered bool) uint16 {
	if !haveDelivered {
		return 0
	}
	return don - prevDon // unsigned subtraction wraps mod 2^16, as required
}
