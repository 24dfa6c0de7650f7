package rtp

import "sync"

// LossReporter is implemented by depacketizers that track dropped packets
// internally (currently only h264Depacketizer, for FU fragmentation gaps).
type LossReporter interface {
	LostPackets() int
}

// rawDrainThreshold is the raw-queue depth above which Stream.EnqueueRaw
// pops and depacketizes the lowest-sequence packet (spec.md §4.D.4:
// "20 default, 5 for AMR, 5 for AAC").
func rawDrainThreshold(kind CodecKind) int {
	switch kind {
	case CodecAMRNB, CodecAMRWB, CodecAACGeneric, CodecAACLATM:
		return 5
	default:
		return 20
	}
}

// Stream is the per-media-stream state spec.md §3 describes: sockets are
// owned by the rtsp package, but codec identity, clock rate, the raw and
// reassembled packet queues, depacketizer, sequence tracking and
// timestamp bookkeeping live here so they can be unit tested without a
// network.
type Stream struct {
	mu sync.Mutex

	Kind      CodecKind
	ClockRate uint32
	Channels  uint8

	extender     SequenceExtender
	raw          *ReorderList // pre-depacketizer queue, keyed by ExtSeq
	reassembled  *ReorderList // post-depacketizer output queue
	depacketizer Depacketizer

	haveFirstSeq   bool
	highestSeq     uint64
	rawLastSeq     uint64
	haveRawLastSeq bool
	lostPackets    int
	depLost        int // depacketizer-reported losses already in lostPackets

	tsOffset uint32 // added to dequeued timestamps after a seek, per spec.md §3
}

// NewStream constructs a Stream for the given codec and clock rate,
// installing the matching Depacketizer.
func NewStream(kind CodecKind, clockRate uint32, channels uint8, cfg CodecConfig) *Stream {
	return &Stream{
		Kind:         kind,
		ClockRate:    clockRate,
		Channels:     channels,
		raw:          NewReorderList(false),
		reassembled:  NewReorderList(true),
		depacketizer: NewDepacketizer(kind, cfg),
	}
}

// Extend converts a wire sequence number to an extended sequence number
// using this stream's rollover state.
func (s *Stream) Extend(seq uint16) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extender.Extend(seq)
}

// EnqueueRaw inserts a freshly decoded RTP packet into the raw queue and
// drains it per spec.md §4.D.4 while its depth exceeds the codec-specific
// threshold (or until empty when atEOS is true).
func (s *Stream) EnqueueRaw(pkt Packet, atEOS bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveFirstSeq || pkt.ExtSeq > s.highestSeq {
		s.highestSeq = pkt.ExtSeq
	}
	s.haveFirstSeq = true
	s.raw.InsertInOrder(pkt.ExtSeq, pkt)

	threshold := rawDrainThreshold(s.Kind)
	for s.raw.Len() > threshold || (atEOS && s.raw.Len() > 0) {
		rawPkt, seq, ok := s.raw.PopFront()
		if !ok {
			break
		}
		if s.haveRawLastSeq && seq != s.rawLastSeq+1 {
			s.lostPackets += int(seq - s.rawLastSeq - 1)
		}
		s.rawLastSeq = seq
		s.haveRawLastSeq = true

		out, err := s.depacketizer.Depacketize(rawPkt)
		if err != nil {
			log.WithField("stream_kind", s.Kind).WithError(err).Debug("depacketize failed")
			continue
		}
		for _, r := range out {
			s.reassembled.InsertInOrder(seq, Packet{ExtSeq: seq, Timestamp: r.Timestamp, Payload: r.Payload})
		}
		if !atEOS && s.raw.Len() <= threshold {
			break
		}
	}
	if lr, ok := s.depacketizer.(LossReporter); ok {
		n := lr.LostPackets()
		s.lostPackets += n - s.depLost
		s.depLost = n
	}
	return nil
}

// Dequeue pops the next reassembled packet in sequence order, applying the
// per-stream TS offset accumulated across seeks. Extended sequence numbers
// come out in non-decreasing order by reassembled's ordering; several
// units reassembled from one RTP packet share that packet's number.
func (s *Stream) Dequeue() (Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkt, seq, ok := s.reassembled.PopFront()
	if !ok {
		return Packet{}, false
	}
	pkt.Timestamp += s.tsOffset
	pkt.ExtSeq = seq
	return pkt, true
}

// PeekFirst returns the next reassembled packet without removing it, for
// callers that need to compare timestamps across streams before deciding
// which to Dequeue (spec.md §4.D.6 AV-alignment rule).
func (s *Stream) PeekFirst() (Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkt, _, ok := s.reassembled.PeekListElement(0)
	return pkt, ok
}

// ReassembledLen reports how many reassembled packets are queued, used by
// the AV-alignment rule in spec.md §4.D.6.
func (s *Stream) ReassembledLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reassembled.Len()
}

// LostPackets returns the stream's cumulative lost-packet count (raw-queue
// gaps plus any depacketizer-internal losses, e.g. dropped H.264 FU
// chains).
func (s *Stream) LostPackets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lostPackets
}

// SetTimestampOffset installs the offset applied to subsequent dequeued
// packets after a seek (spec.md §3 "TS offset applied after seek").
func (s *Stream) SetTimestampOffset(offset uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tsOffset = offset
}

// HighestSeq reports the highest extended sequence number enqueued so
// far, the value RTCP receiver reports carry in their "highest sequence
// number received" field (spec.md §4.D.8).
func (s *Stream) HighestSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highestSeq
}
