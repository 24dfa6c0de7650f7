package rtsp

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/mediapipe/internal/netctl"
)

// controlConn wraps the RTSP control TCP socket behind the dedicated
// mutex spec.md §4.D.1/§5 requires: "all command/response sequences are
// atomic."
type controlConn struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

func dialControl(host string, timeout time.Duration) (*controlConn, error) {
	if netctl.ActivityBlocked() {
		return nil, &ProtocolError{Op: "dial", Err: fmt.Errorf("socket activity blocked")}
	}
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return nil, &ProtocolError{Op: "dial", Err: err}
	}
	return &controlConn{conn: conn, r: bufio.NewReader(conn)}, nil
}

// sendCommand writes an RTSP request and returns the status line, headers
// and body, holding the control-socket mutex for the full round trip.
func (c *controlConn) sendCommand(request string, bodyTimeout time.Duration) (status int, headers map[string]string, body []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if netctl.ActivityBlocked() {
		return 0, nil, nil, &ProtocolError{Op: "command", Err: fmt.Errorf("socket activity blocked")}
	}

	c.conn.SetWriteDeadline(time.Now().Add(bodyTimeout))
	if _, err := c.conn.Write([]byte(request)); err != nil {
		return 0, nil, nil, &ProtocolError{Op: "command-write", Err: err}
	}

	c.conn.SetReadDeadline(time.Now().Add(bodyTimeout))
	status, headers, err = readResponseHead(c.r)
	if err != nil {
		return 0, nil, nil, &ProtocolError{Op: "command-read", Err: err}
	}

	if cl, ok := headers["content-length"]; ok {
		n := parseContentLength(cl)
		if n > 0 {
			body = make([]byte, n)
			if _, err := readFull(c.r, body); err != nil {
				return 0, nil, nil, &ProtocolError{Op: "command-body", Err: err}
			}
		}
	}
	return status, headers, body, nil
}

func (c *controlConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// readResponseHead reads "RTSP/1.0 <code> <reason>\r\n" followed by
// headers until a blank line, per spec.md §4.D.1.
func readResponseHead(r *bufio.Reader) (int, map[string]string, error) {
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return 0, nil, err
	}
	statusLine = strings.TrimSpace(statusLine)
	fields := strings.SplitN(statusLine, " ", 3)
	if len(fields) < 2 {
		return 0, nil, fmt.Errorf("malformed status line %q", statusLine)
	}
	var code int
	fmt.Sscanf(fields[1], "%d", &code)

	headers := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}
	return code, headers, nil
}

func parseContentLength(s string) int {
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// mediaPorts is a bound UDP pair (RTP + RTCP = port, port+1) selected
// per spec.md §4.D.1: "random even port in [7000, 7998], 1000 attempts
// before failing."
type mediaPorts struct {
	rtp, rtcp *net.UDPConn
	port      int
}

func bindMediaPorts() (*mediaPorts, error) {
	if netctl.ActivityBlocked() {
		return nil, &ProtocolError{Op: "bind-media", Err: fmt.Errorf("socket activity blocked")}
	}
	for attempt := 0; attempt < 1000; attempt++ {
		port := 7000 + 2*rand.Intn((7998-7000)/2+1)
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err != nil {
			continue
		}
		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port + 1})
		if err != nil {
			rtpConn.Close()
			continue
		}
		return &mediaPorts{rtp: rtpConn, rtcp: rtcpConn, port: port}, nil
	}
	return nil, &ProtocolError{Op: "bind-media", Err: fmt.Errorf("no free port pair found in [7000,7998] after 1000 attempts")}
}

func (p *mediaPorts) Close() {
	if p.rtp != nil {
		p.rtp.Close()
	}
	if p.rtcp != nil {
		p.rtcp.Close()
	}
}
