// Package rtp implements the pieces of the RTSP/RTP client that are
// codec- and transport-agnostic: the wire-level RTP packet plus sequence
// extension, the mutex-protected reorder list (spec.md §4.B), and the
// per-codec depacketizers (spec.md §4.C). Wire parsing itself is done with
// github.com/pion/rtp rather than hand-rolled; everything downstream of
// that (reassembly, reordering, loss detection) is bespoke.
package rtp

import (
	pionrtp "github.com/pion/rtp"

	"github.com/opd-ai/mediapipe/internal/logging"
)

var log = logging.For("rtp")

// Packet is a received RTP datagram after CSRC/extension stripping, with
// its sequence number extended across 16-bit wraps. Depacketizers and the
// reorder list operate on Packet, never on the raw pion/rtp.Packet.
type Packet struct {
	Seq       uint16 // wire (non-extended) sequence number
	ExtSeq    uint64 // extended sequence number (spec.md §4.D.4 rollover tracking)
	Timestamp uint32
	Marker    bool
	Payload   []byte
}

// ParsePacket decodes a raw UDP datagram into a Packet using pion/rtp,
// validating version 2 and the stream's negotiated payload type per
// spec.md §4.D.4. extend computes ExtSeq from the stream's rollover state.
func ParsePacket(buf []byte, payloadType uint8, extend func(seq uint16) uint64) (Packet, error) {
	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return Packet{}, &DecodeError{Reason: "rtp unmarshal", Err: err}
	}
	if pkt.Version != 2 {
		return Packet{}, &DecodeError{Reason: "unsupported RTP version"}
	}
	if pkt.PayloadType != payloadType {
		return Packet{}, &DecodeError{Reason: "payload type mismatch"}
	}
	return Packet{
		Seq:       pkt.SequenceNumber,
		ExtSeq:    extend(pkt.SequenceNumber),
		Timestamp: pkt.Timestamp,
		Marker:    pkt.Marker,
		Payload:   pkt.Payload,
	}, nil
}

// DecodeError reports why a raw datagram was rejected before it ever
// reached a depacketizer.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "rtp: " + e.Reason + ": " + e.Err.Error()
	}
	return "rtp: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SequenceExtender tracks per-stream 16-bit sequence rollover, turning wire
// sequence numbers into a monotonically increasing 64-bit extended
// sequence: the rollover counter increments when the wire sequence jumps
// backwards by more than half the 16-bit space.
type SequenceExtender struct {
	haveFirst bool
	lastWire  uint16
	rollovers uint64
}

// Extend returns the extended sequence number for seq, updating rollover
// state. Per spec.md §4.D.4, a rollover is detected when the wire sequence
// wraps from near 65535 back down near 0; subsequent sequences are offset
// by rollovers*65536.
func (s *SequenceExtender) Extend(seq uint16) uint64 {
	if !s.haveFirst {
		s.haveFirst = true
		s.lastWire = seq
		return uint64(seq)
	}
	if int32(seq)-int32(s.lastWire) < -32768 {
		s.rollovers++
	}
	s.lastWire = seq
	return s.rollovers*65536 + uint64(seq)
}
