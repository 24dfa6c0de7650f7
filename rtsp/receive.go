package rtsp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/opd-ai/mediapipe/rtp"
)

// socketEvent is what one per-socket reader goroutine hands to the fan-in
// loop: the track it belongs to, whether it came off the RTP or RTCP
// socket, and the raw bytes read.
type socketEvent struct {
	trackIdx int
	isRTCP   bool
	data     []byte
	err      error
}

// startReceiveThread launches one reader goroutine per bound socket (RTP
// and RTCP, per track) plus the fan-in/dispatch loop and the periodic
// RTCP sender. This is the idiomatic-Go equivalent of spec.md §4.D.5's
// "select() over up to 16 sockets with a 1-second budget": instead of a
// single thread blocking in select, each socket gets its own blocking
// reader and a shared channel serializes delivery, which is the standard
// Go pattern for fan-in multiplexing.
func (s *Session) startReceiveThread() {
	s.runThread.Store(true)
	events := make(chan socketEvent, 64)

	for i, t := range s.tracks {
		idx := i
		track := t
		if track.ports == nil {
			continue
		}
		go socketReader(idx, false, track.ports.rtp, events, &s.runThread)
		go socketReader(idx, true, track.ports.rtcp, events, &s.runThread)
	}

	go s.dispatchLoop(events)
	go s.rtcpSenderLoop()
}

func socketReader(idx int, isRTCP bool, conn *net.UDPConn, out chan<- socketEvent, running *atomic.Bool) {
	buf := make([]byte, 65536)
	for running.Load() {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			out <- socketEvent{trackIdx: idx, isRTCP: isRTCP, err: err}
			continue
		}
		cp := append([]byte(nil), buf[:n]...)
		out <- socketEvent{trackIdx: idx, isRTCP: isRTCP, data: cp}
	}
}

func (s *Session) dispatchLoop(events chan socketEvent) {
	for s.runThread.Load() {
		select {
		case ev := <-events:
			if ev.err != nil {
				s.handleReadError(ev)
				continue
			}
			s.mu.Lock()
			s.readErrors = 0
			s.mu.Unlock()
			if ev.trackIdx >= len(s.tracks) {
				log.WithError(errUnknownStreamIndex).Debug("received packet for unregistered track index")
				continue
			}
			t := s.tracks[ev.trackIdx]
			if ev.isRTCP {
				parseRTCP(ev.data, &t.rtcp)
				if t.rtcp.gotBye {
					s.gotBye.Store(true)
				}
				continue
			}
			pkt, err := rtp.ParsePacket(ev.data, t.desc.payloadType, t.stream.Extend)
			if err != nil {
				log.WithError(err).Debug("dropping undecodable RTP packet")
				continue
			}
			if t.firstSeq != 0 && int16(pkt.Seq-t.firstSeq) < 0 {
				continue // arrived before the PLAY response's RTP-Info seq, a stale retransmit
			}
			t.stream.EnqueueRaw(pkt, false)
		case <-time.After(time.Second):
		}
	}
}

// handleReadError counts consecutive socket errors and triggers a
// reconnect once they indicate the network path is down, per spec.md
// §4.D.6's stall-detection/reconnect rule.
func (s *Session) handleReadError(ev socketEvent) {
	s.mu.Lock()
	s.readErrors++
	shouldReconnect := s.readErrors > 5
	s.mu.Unlock()

	if shouldReconnect {
		s.reconnect()
	}
}

// reconnect re-issues PLAY from the last delivered timestamp over the
// existing control connection and media sockets, capped at
// cfg.ReconnectLimit attempts. It does not tear down the sockets and does
// not repeat DESCRIBE or SETUP.
func (s *Session) reconnect() {
	s.mu.Lock()
	if s.reconnectAttempts >= s.cfg.ReconnectLimit {
		s.mu.Unlock()
		log.Warn("reconnect attempts exhausted, giving up")
		return
	}
	s.reconnectAttempts++
	s.mu.Unlock()

	log.Info("attempting reconnect")
	if err := s.resumeFromLastDelivered(context.Background()); err != nil {
		log.WithError(err).Warn("reconnect PLAY failed")
	} else {
		s.mu.Lock()
		s.readErrors = 0
		s.mu.Unlock()
	}
}

// resumeFromLastDelivered issues PLAY with a Range starting at the last
// timestamp this session delivered, converted to seconds using the first
// track's clock rate. Used by both reconnect and SetPause(false) so
// resuming never restarts a stream from zero.
func (s *Session) resumeFromLastDelivered(ctx context.Context) error {
	s.mu.Lock()
	lastTS := s.lastDeliveredTS
	rate := uint32(90000)
	if len(s.tracks) > 0 && s.tracks[0].stream.ClockRate > 0 {
		rate = s.tracks[0].stream.ClockRate
	}
	s.mu.Unlock()

	resumeSeconds := float64(lastTS) / float64(rate)
	return s.Play(ctx, resumeSeconds)
}

// rtcpSenderLoop sends an RR (and, on WMServer streams, an OPTIONS
// keepalive) every 15 seconds while the session is playing, per spec.md
// §4.D.8.
func (s *Session) rtcpSenderLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for s.runThread.Load() {
		<-ticker.C
		if !s.runThread.Load() {
			return
		}
		s.sendReceiverReports()
		if s.isWMS {
			s.do("OPTIONS", s.rawURL, nil)
		}
	}
}

func (s *Session) sendReceiverReports() {
	s.mu.Lock()
	tracks := make([]*track, len(s.tracks))
	copy(tracks, s.tracks)
	s.mu.Unlock()

	for _, t := range tracks {
		if t.ports == nil {
			continue
		}
		highSeq := t.stream.HighestSeq()
		rr, err := buildReceiverReport(0, []rrTrackInput{{
			ssrc:          0,
			highestExtSeq: highSeq,
			lastSR:        t.rtcp.lastSR,
		}})
		if err != nil {
			continue
		}
		t.ports.rtcp.Write(rr)
	}
}
