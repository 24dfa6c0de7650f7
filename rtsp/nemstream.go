package rtsp

import (
	"bytes"
	"io"
	"sync"

	"github.com/opd-ai/mediapipe/rtp"
)

// nemStream turns a Session's per-track reassembled packet queues into the
// single NEM byte stream spec.md §4.D.9 describes: a file header, one
// format packet per track, then interleaved data packets emitted in
// timestamp order (the "AV alignment" rule: never emit a packet from one
// track more than one reassembled packet ahead of the others when both
// have data waiting).
type nemStream struct {
	mu         sync.Mutex
	session    *Session
	headerSent bool
	buf        bytes.Buffer // bytes already framed but not yet read out
	eof        bool
	lastLost   []int // per-track Stream.LostPackets() as of the last dequeue
}

func newNEMStream(s *Session) *nemStream {
	return &nemStream{session: s, lastLost: make([]int, len(s.tracks))}
}

// Read implements io.Reader by framing as much data as is currently
// available into buf and draining it, blocking only long enough to try
// one round of track dequeues (the caller, handler.Handler.Read, owns
// blocking/retry semantics per spec.md §4.A).
func (n *nemStream) Read(p []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.headerSent {
		n.writeHeaders()
		n.headerSent = true
	}

	if n.buf.Len() == 0 {
		n.fillOnce()
	}
	if n.buf.Len() == 0 {
		if n.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	return n.buf.Read(p)
}

// writeHeaders emits the stream's leading header. When the SDP carried an
// ASF carrier (spec.md §3/§4.D.9: "when the carrier is ASF, the raw ASF
// header replaces the NEM header stream"), the recovered ASF header bytes
// are written verbatim instead of a NEM FileHeader and per-track
// AudioFormat/VideoFormat packets.
func (n *nemStream) writeHeaders() {
	if n.session.asfCarrier {
		n.buf.Write(n.session.asfHeader)
		return
	}

	writeFileHeader(&n.buf, uint32(len(n.session.tracks)))
	for i, t := range n.session.tracks {
		if t.desc.isVideo {
			writeVideoFormat(&n.buf, uint16(i), VideoFormat{
				Codec:      codecTagFor(t.desc.codecName),
				Width:      t.desc.width,
				Height:     t.desc.height,
				BitRate:    t.desc.avgBitRate,
			})
		} else {
			writeAudioFormat(&n.buf, uint16(i), AudioFormat{
				Codec:         codecTagFor(t.desc.codecName),
				SampleRate:    t.desc.clockRate,
				Channels:      uint32(t.desc.channels),
				BitRate:       t.desc.avgBitRate,
				BitsPerSample: 16,
			})
		}
	}
}

// fillOnce peeks at the head of each track's reassembled queue, picks
// the packet with the lowest timestamp, and dequeues and frames that one
// packet as a 'da' data packet. Per spec.md §4.D.6's AV-alignment rule, a track is skipped this
// round if it is already more than one reassembled packet ahead of the
// track with the fewest queued packets.
func (n *nemStream) fillOnce() {
	minQueued := -1
	for _, t := range n.session.tracks {
		l := t.stream.ReassembledLen()
		if l == 0 {
			continue
		}
		if minQueued == -1 || l < minQueued {
			minQueued = l
		}
	}
	if minQueued == -1 {
		if n.session.gotBye.Load() {
			n.eof = true
		}
		return
	}

	bestIdx := -1
	var bestPkt rtp.Packet
	for i, t := range n.session.tracks {
		if t.stream.ReassembledLen() == 0 {
			continue
		}
		if t.stream.ReassembledLen() > minQueued+1 {
			continue // this track is running ahead; let others catch up
		}
		pkt, ok := t.stream.PeekFirst()
		if !ok {
			continue
		}
		if bestIdx == -1 || tsLess(pkt.Timestamp, bestPkt.Timestamp) {
			bestIdx = i
			bestPkt = pkt
		}
	}
	if bestIdx == -1 {
		return
	}

	t := n.session.tracks[bestIdx]
	pkt, ok := t.stream.Dequeue()
	if !ok {
		return
	}
	n.session.mu.Lock()
	n.session.lastDeliveredTS = uint64(pkt.Timestamp)
	n.session.mu.Unlock()

	// When the carrier is ASF, data is delivered without NEM per-packet
	// headers (spec.md §3/§4.D.9): the reassembled payload already carries
	// ASF packet framing of its own.
	if n.session.asfCarrier {
		n.buf.Write(pkt.Payload)
		return
	}

	lost := t.stream.LostPackets()
	var flags uint32 = NEMFlagEndOfPacket // depacketizers fully reassemble each access unit before enqueueing it, so every dequeued packet is already its own terminal fragment
	if lost > n.lastLost[bestIdx] {
		flags |= NEMFlagSkipPacket
	}
	n.lastLost[bestIdx] = lost

	ns := ticksToHundredNS(pkt.Timestamp, t.desc.clockRate)
	writeDataPacket(&n.buf, uint16(bestIdx), pkt.Payload, flags, ns)
}

// tsLess compares RTP timestamps with 32-bit wraparound awareness.
func tsLess(a, b uint32) bool {
	return int32(a-b) < 0
}
