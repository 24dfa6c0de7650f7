// Package rtsp implements the RTSP/RTP client described in spec.md §4.D:
// session state machine, SDP parsing, RTCP reporting, the RTP receive
// thread, seek-with-reconnect, and the synthetic NEM byte stream that lets
// downstream parsers consume RTSP like a local file.
package rtsp

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/mediapipe/handler"
	"github.com/opd-ai/mediapipe/internal/logging"
	"github.com/opd-ai/mediapipe/rtp"
)

var log = logging.For("rtsp")

// State is the RTSP session state machine of spec.md §4.D.2:
//
//	(init) --SETUP--> Ready --PLAY--> Playing <--PAUSE--> Paused
//	Playing --TEARDOWN--> (closed)
type State int

const (
	StateInit State = iota
	StateReady
	StatePlaying
	StatePaused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// track bundles an rtp.Stream with the RTSP-specific state spec.md §3
// attaches to it: sockets, ports, control URL, RTCP state and the
// per-stream RTP-Info values (firstSeq, serverTS) seeded by PLAY.
type track struct {
	desc sdpStreamDesc

	ports *mediaPorts

	stream *rtp.Stream
	rtcp   rtcpTrackState

	serverTS uint64 // RTP-Info rtptime for this stream at the last PLAY
	firstSeq uint16
}

// Session is the per-connection RTSP client state of spec.md §3
// ("RTSP session"). A Session is created by Dial and torn down by
// Teardown.
type Session struct {
	mu sync.Mutex

	rawURL  string
	control *controlConn
	cseq    int64

	sessionID string
	state     State

	tracks []*track

	durationSecs  float64
	durationKnown bool
	isLive        bool

	asfCarrier   bool
	asfHeader    []byte
	maxASFPacket int
	isWMS        bool

	lastDeliveredTS uint64

	runThread  atomic.Bool
	gotBye     atomic.Bool
	readErrors int

	reconnectAttempts int
	cfg               Config
}

// Config bundles the tunables the RTSP layer needs from
// internal/config.Config without creating an import cycle.
type Config struct {
	CommandTimeout      time.Duration
	ReceiveSelectBudget time.Duration
	ReconnectLimit      int
	RedirectLimit       int
}

// DefaultConfig matches spec.md's stated defaults (60s command timeout,
// 1s receive budget, reconnect cap 3, redirect cap 10).
func DefaultConfig() Config {
	return Config{
		CommandTimeout:      60 * time.Second,
		ReceiveSelectBudget: time.Second,
		ReconnectLimit:      3,
		RedirectLimit:       10,
	}
}

// Dial opens the control connection and issues DESCRIBE, returning a
// Session in StateInit with tracks populated from the parsed SDP but not
// yet SETUP.
func Dial(ctx context.Context, rawURL string, cfg Config) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ProtocolError{Op: "dial", Err: err}
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":554"
	}

	conn, err := dialControl(host, cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}

	s := &Session{
		rawURL: rawURL,
		control: conn,
		state:   StateInit,
		cfg:     cfg,
	}

	body, headers, err := s.describe(rawURL)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.isWMS = strings.Contains(strings.ToLower(headers["server"]), "wmserver")

	sdpSess, err := parseSDP(body, rawURL)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.applySDP(sdpSess)

	return s, nil
}

func (s *Session) applySDP(sdpSess *sdpSession) {
	s.durationSecs = sdpSess.durationSecs
	s.durationKnown = sdpSess.durationKnown
	s.isLive = sdpSess.isLive
	if sdpSess.asfHeader != nil {
		s.asfCarrier = true
		s.asfHeader = sdpSess.asfHeader
		s.maxASFPacket = sdpSess.maxASFPacket
	}
	for _, d := range sdpSess.streams {
		if d.skip {
			continue
		}
		kind := codecKindFromName(d.codecName, false)
		if d.codecName == "X-ASF-PF" {
			d.cfg.MaxASFPacketSize = sdpSess.maxASFPacket
		}
		t := &track{
			desc:   d,
			stream: rtp.NewStream(kind, d.clockRate, d.channels, d.cfg),
		}
		s.tracks = append(s.tracks, t)
	}
}

func (s *Session) nextCSeq() int64 {
	return atomic.AddInt64(&s.cseq, 1)
}

func (s *Session) buildRequest(method, uri string, extraHeaders map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", s.nextCSeq())
	b.WriteString("User-Agent: mediapipe/1.0\r\n")
	if s.sessionID != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", s.sessionID)
	}
	for k, v := range extraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	return b.String()
}

// do sends one RTSP request, following up to cfg.RedirectLimit redirects
// (3xx) and failing immediately on 4xx/5xx, per spec.md §4.D.1.
func (s *Session) do(method, uri string, extraHeaders map[string]string) (int, map[string]string, []byte, error) {
	redirects := 0
	for {
		req := s.buildRequest(method, uri, extraHeaders)
		status, headers, body, err := s.control.sendCommand(req, s.cfg.CommandTimeout)
		if err != nil {
			return 0, nil, nil, err
		}
		if status >= 300 && status < 400 {
			redirects++
			if redirects > s.cfg.RedirectLimit {
				return status, headers, body, &ProtocolError{Op: method, Err: ErrTooManyRedirects}
			}
			if loc, ok := headers["location"]; ok {
				uri = loc
				continue
			}
		}
		if status >= 400 {
			return status, headers, body, &ProtocolError{Op: method, Err: fmt.Errorf("server returned %d", status)}
		}
		return status, headers, body, nil
	}
}

func (s *Session) describe(uri string) ([]byte, map[string]string, error) {
	_, headers, body, err := s.do("DESCRIBE", uri, map[string]string{"Accept": "application/sdp"})
	return body, headers, err
}

// Setup issues SETUP for every negotiated track, binding local UDP ports
// for each and, per spec.md §4.D.2, reusing the first session's client
// port pair for subsequent tracks when the server identifies as WMServer.
func (s *Session) Setup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInit {
		return &ProtocolError{Op: "setup", Err: fmt.Errorf("%w: session not in Init state", ErrParserFailure)}
	}

	var sharedPorts *mediaPorts
	for _, t := range s.tracks {
		var ports *mediaPorts
		var err error
		if s.isWMS && sharedPorts != nil {
			ports = sharedPorts
		} else {
			ports, err = bindMediaPorts()
			if err != nil {
				return err
			}
			if sharedPorts == nil {
				sharedPorts = ports
			}
		}
		t.ports = ports

		transport := fmt.Sprintf("RTP/AVP/UDP;unicast;client_port=%d-%d", ports.port, ports.port+1)
		status, headers, _, err := s.do("SETUP", t.desc.controlURL, map[string]string{"Transport": transport})
		if err != nil {
			return err
		}
		if status != 200 {
			return &ProtocolError{Op: "setup", Err: fmt.Errorf("unexpected status %d", status)}
		}
		if sid := headers["session"]; sid != "" && s.sessionID == "" {
			s.sessionID = strings.SplitN(sid, ";", 2)[0]
		}
	}
	s.state = StateReady
	return nil
}

// Play issues PLAY with "Range: npt=<from>-" and parses the RTP-Info
// response to seed each track's firstSeq/serverTS (spec.md §4.D.2).
func (s *Session) Play(ctx context.Context, fromSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady && s.state != StatePaused && s.state != StatePlaying {
		return &ProtocolError{Op: "play", Err: fmt.Errorf("%w: session not Ready/Paused/Playing", ErrParserFailure)}
	}

	headers := map[string]string{"Range": fmt.Sprintf("npt=%.3f-", fromSeconds)}
	_, respHeaders, _, err := s.do("PLAY", s.rawURL, headers)
	if err != nil {
		return err
	}
	s.applyRTPInfo(respHeaders["rtp-info"])

	if s.state == StateReady {
		s.startReceiveThread()
	}
	s.state = StatePlaying
	return nil
}

// applyRTPInfo parses one or more "url=...;seq=...;rtptime=..." segments,
// applying continuation lines without a URL to subsequent tracks in
// order, per spec.md §4.D.2.
func (s *Session) applyRTPInfo(header string) {
	if header == "" {
		return
	}
	segments := strings.Split(header, ",")
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		var track *track
		if i < len(s.tracks) {
			track = s.tracks[i]
		}
		if track == nil {
			continue
		}
		for _, field := range strings.Split(seg, ";") {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "seq":
				if n, err := strconv.ParseUint(kv[1], 10, 16); err == nil {
					track.firstSeq = uint16(n)
				}
			case "rtptime":
				if n, err := strconv.ParseUint(kv[1], 10, 64); err == nil {
					track.serverTS = n
					if s.lastDeliveredTS != 0 {
						track.stream.SetTimestampOffset(uint32(s.lastDeliveredTS) - uint32(n))
					}
				}
			}
		}
	}
}

// Pause issues PAUSE and moves the session to StatePaused. The receive
// goroutines keep running and still enqueue whatever packets arrive.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return &ProtocolError{Op: "pause", Err: fmt.Errorf("%w: session not Playing", ErrParserFailure)}
	}
	if _, _, _, err := s.do("PAUSE", s.rawURL, nil); err != nil {
		return err
	}
	s.state = StatePaused
	return nil
}

// Teardown sends TEARDOWN, stops the receive thread and closes sockets.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	running := s.state != StateClosed
	s.mu.Unlock()
	if !running {
		return nil
	}

	s.runThread.Store(false)
	_, _, _, err := s.do("TEARDOWN", s.rawURL, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.ports != nil {
			t.ports.Close()
		}
	}
	s.control.Close()
	s.state = StateClosed
	return err
}

// IsLive reports whether the SDP advertised a live ("now-") range.
func (s *Session) IsLive() bool { return s.isLive }

// DurationSeconds returns the advertised session duration, if known.
func (s *Session) DurationSeconds() (float64, bool) { return s.durationSecs, s.durationKnown }

// GetState returns the current session state.
func (s *Session) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ASFHeader returns the recovered ASF header blob when the SDP carried an
// a=pgmpu attribute (ASF-in-RTP carrier), and whether one was found.
func (s *Session) ASFHeader() ([]byte, bool) { return s.asfHeader, s.asfCarrier }

// TrackInfo summarizes one negotiated media stream for diagnostic tools
// such as cmd/mediapipe-probe.
type TrackInfo struct {
	IsVideo     bool
	CodecName   string
	ClockRate   uint32
	Channels    uint8
	Width       uint32
	Height      uint32
	ControlURL  string
}

// sdesField returns the requested SDES field from the first track's
// accumulated RTCP state (spec.md §4.E.7's "RTCP-related keys (forwarded)").
func (s *Session) sdesField(key handler.ConfigKey) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tracks) == 0 {
		return ""
	}
	sdes := s.tracks[0].rtcp.sdes
	switch key {
	case handler.ConfigRTCPSDESCName:
		return sdes.cname
	case handler.ConfigRTCPSDESName:
		return sdes.name
	case handler.ConfigRTCPSDESEmail:
		return sdes.email
	case handler.ConfigRTCPSDESPhone:
		return sdes.phone
	case handler.ConfigRTCPSDESLoc:
		return sdes.loc
	case handler.ConfigRTCPSDESTool:
		return sdes.tool
	case handler.ConfigRTCPSDESNote:
		return sdes.note
	case handler.ConfigRTCPSDESPriv:
		return sdes.priv
	default:
		return ""
	}
}

// Tracks reports the negotiated streams in SDP order.
func (s *Session) Tracks() []TrackInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackInfo, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = TrackInfo{
			IsVideo:    t.desc.isVideo,
			CodecName:  t.desc.codecName,
			ClockRate:  t.desc.clockRate,
			Channels:   t.desc.channels,
			Width:      t.desc.width,
			Height:     t.desc.height,
			ControlURL: t.desc.controlURL,
		}
	}
	return out
}
