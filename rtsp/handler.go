package rtsp

import (
	"context"
	"io"

	"github.com/opd-ai/mediapipe/handler"
)

// Opener implements handler.Opener for the "rtsp://" scheme (and, via
// handler.Registry's RTSP-sniffer hook, ".sdp"-suffixed "http://" URLs):
// it dials, SETUPs every track and starts PLAY, then exposes the session's
// NEM byte stream through the handler.Handler ABI so it plugs into the
// cache exactly like a local file (spec.md §4.A).
type Opener struct {
	Config Config
}

// NewOpener constructs an Opener with spec.md's default RTSP tunables.
func NewOpener() *Opener {
	return &Opener{Config: DefaultConfig()}
}

func (o *Opener) Open(ctx context.Context, uri string, access handler.Access) (handler.Handler, error) {
	if access == handler.AccessWrite {
		return nil, handler.NewError("open", "rtsp", handler.ErrNotSupported)
	}

	sess, err := Dial(ctx, uri, o.Config)
	if err != nil {
		return nil, handler.NewError("open", "rtsp", err)
	}
	if err := sess.Setup(ctx); err != nil {
		sess.Teardown(ctx)
		return nil, handler.NewError("open", "rtsp", err)
	}
	if err := sess.Play(ctx, 0); err != nil {
		sess.Teardown(ctx)
		return nil, handler.NewError("open", "rtsp", err)
	}

	return &streamHandle{session: sess, stream: newNEMStream(sess)}, nil
}

func (o *Opener) ProbeParser(uri string) handler.ParserKind { return handler.ParserNEM }

// streamHandle adapts a Session's NEM byte stream to handler.Handler. RTSP
// sources are always streaming (spec.md §4.A): Seek only supports
// OriginTime, via PLAY Range re-issue; byte-offset seeking is not
// supported since the NEM framing has no stable byte index.
type streamHandle struct {
	session *Session
	stream  *nemStream
	pos     int64
	paused  bool
	closed  bool
}

func (h *streamHandle) Version() int { return handler.Version }

func (h *streamHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.session.Teardown(context.Background())
}

func (h *streamHandle) Read(ctx context.Context, buf []byte) (int, error) {
	if h.closed {
		return 0, handler.ErrAlreadyClosed
	}
	n, err := h.stream.Read(buf)
	h.pos += int64(n)
	if err == io.EOF {
		return n, handler.ErrEOS
	}
	return n, err
}

func (h *streamHandle) Write(ctx context.Context, buf []byte) (int, error) {
	return 0, handler.ErrNotImplemented
}

func (h *streamHandle) Seek(ctx context.Context, offset int64, origin handler.SeekOrigin) (int64, error) {
	if origin != handler.OriginTime {
		return h.pos, handler.ErrNotSupported
	}
	seconds := float64(offset) / 1e7 // offset is in 100ns units, matching NEM timestamps
	if err := h.session.Play(ctx, seconds); err != nil {
		return h.pos, handler.NewError("seek", "rtsp", err)
	}
	h.stream = newNEMStream(h.session)
	h.pos = 0
	return h.pos, nil
}

func (h *streamHandle) Position() int64 { return h.pos }

func (h *streamHandle) Size() int64 { return -1 }

func (h *streamHandle) IsStreaming() bool { return true }

func (h *streamHandle) QueryConfig(key handler.ConfigKey, out []byte) (int, []byte, error) {
	switch key {
	case handler.ConfigCanSeekByTime:
		return writeBool(out, true)
	case handler.ConfigRTCPSDESCName, handler.ConfigRTCPSDESName, handler.ConfigRTCPSDESEmail,
		handler.ConfigRTCPSDESPhone, handler.ConfigRTCPSDESLoc, handler.ConfigRTCPSDESTool,
		handler.ConfigRTCPSDESNote, handler.ConfigRTCPSDESPriv:
		return writeString(out, h.session.sdesField(key))
	default:
		return 0, nil, handler.ErrNotSupported
	}
}

// writeString implements the two-call size-probe convention for
// string-valued config keys.
func writeString(out []byte, s string) (int, []byte, error) {
	if out == nil {
		return len(s), nil, nil
	}
	n := copy(out, s)
	return n, out[:n], nil
}

func (h *streamHandle) SetPause(pause bool) error {
	ctx := context.Background()
	if pause {
		h.paused = true
		return h.session.Pause(ctx)
	}
	h.paused = false
	return h.session.resumeFromLastDelivered(ctx)
}

// writeBool implements the two-call size-probe convention
// handler.Handler.QueryConfig documents, for a single-byte boolean value.
func writeBool(out []byte, v bool) (int, []byte, error) {
	if out == nil {
		return 1, nil, nil
	}
	if v {
		out[0] = 1
	} else {
		out[0] = 0
	}
	return 1, out[:1], nil
}
