package rtsp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the RTSP layer's slice of spec.md §7's taxonomy.
var (
	ErrParserFailure  = errors.New("rtsp: parser failure: state invariant violated")
	ErrTimeout        = errors.New("rtsp: timeout")
	ErrNotSupported   = errors.New("rtsp: not supported")
	ErrSessionClosed  = errors.New("rtsp: session closed")
	ErrTooManyRedirects = errors.New("rtsp: too many redirects")
	ErrReconnectFailed  = errors.New("rtsp: reconnect attempts exhausted")
)

// ProtocolError wraps a failure at a specific RTSP operation, following
// the teacher's *ToxNetError convention (net/errors.go) so callers can
// errors.Is/errors.As against the sentinels above.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("rtsp %s: %v", e.Op, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }
