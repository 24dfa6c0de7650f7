// Package handler defines the protocol handler plug-in ABI that the
// caching content pipe drives: a small, versioned interface implemented
// once per source kind (local file, HTTP, RTSP) and selected by URI scheme
// through a process-wide Registry.
package handler

import (
	"context"
	"errors"
	"fmt"
)

// Version is the ABI version this package implements. Handlers report their
// own version from Handler.Version; callers gate version-dependent features
// (time-based seek, prebuffer amount) on it.
const Version = 2

// Access describes the open mode requested of a handler.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessReadWrite
)

// SeekOrigin mirrors spec.md §4.A's seek origins. OriginTime is only valid
// when the handler reports ConfigCanSeekByTime true.
type SeekOrigin int

const (
	OriginBegin SeekOrigin = iota
	OriginCurrent
	OriginEnd
	OriginTime
)

// ConfigKey enumerates the query-config / set-config keys of spec.md §4.A
// and §4.E.7.
type ConfigKey int

const (
	ConfigPreBufferAmount ConfigKey = iota
	ConfigCanSeekByTime
	ConfigMetaInterval
	ConfigChunkSize
	ConfigActualSeekTime
	ConfigTimeStamps
	ConfigRTCPApp
	ConfigRTCPSDESCName
	ConfigRTCPSDESName
	ConfigRTCPSDESEmail
	ConfigRTCPSDESPhone
	ConfigRTCPSDESLoc
	ConfigRTCPSDESTool
	ConfigRTCPSDESNote
	ConfigRTCPSDESPriv
	ConfigCacheSize
	ConfigThresholdHighMark
	ConfigThresholdLowMark
)

// ParserKind is probe-parser's hint about which downstream parser should
// consume a URI's bytes.
type ParserKind string

const (
	ParserUnknown ParserKind = ""
	ParserMP4     ParserKind = "mp4"
	ParserAVI     ParserKind = "avi"
	ParserASF     ParserKind = "asf"
	ParserMKV     ParserKind = "mkv"
	ParserMP3     ParserKind = "mp3"
	ParserNEM     ParserKind = "nem"
)

// Sentinel errors forming the taxonomy of spec.md §7. Handlers should
// return these directly (or wrap them with fmt.Errorf("...: %w", ...)) so
// callers can discriminate with errors.Is.
var (
	ErrEOS               = errors.New("handler: end of stream")
	ErrNotSupported      = errors.New("handler: not supported")
	ErrNotImplemented    = errors.New("handler: not implemented")
	ErrBadParameter      = errors.New("handler: bad parameter")
	ErrTimeout           = errors.New("handler: timeout")
	ErrFileOperation     = errors.New("handler: file operation failed")
	ErrAlreadyClosed     = errors.New("handler: already closed")
)

// Handler is the per-open, per-source behavior a protocol provider
// implements. An instance is created by Open and is not reused across
// opens; Close must be idempotent.
type Handler interface {
	// Version reports the ABI version this implementation speaks.
	Version() int

	// Close releases all resources associated with the handler. Calling
	// Close more than once must be a no-op.
	Close() error

	// Read returns bytes actually read into buf. Zero bytes with a nil
	// error means transient empty for a streaming source; zero bytes with
	// ErrEOS means end of stream for a non-streaming source.
	Read(ctx context.Context, buf []byte) (int, error)

	// Write returns bytes written. Streaming handlers return
	// ErrNotImplemented.
	Write(ctx context.Context, buf []byte) (int, error)

	// Seek repositions the handler per origin. OriginTime requires
	// ConfigCanSeekByTime to be true.
	Seek(ctx context.Context, offset int64, origin SeekOrigin) (int64, error)

	// Position returns the current byte offset.
	Position() int64

	// Size returns the source size in bytes, or -1 if unknown (e.g. a live
	// stream).
	Size() int64

	// IsStreaming reports whether the source is a real-time/unbounded
	// stream (HTTP live, RTSP) as opposed to a seekable, sized source.
	IsStreaming() bool

	// QueryConfig reads a config key. String-valued keys support the
	// two-call size-probe convention: calling with a nil out buffer
	// returns (requiredLen, nil, nil); calling again with a buffer of
	// that length fills it.
	QueryConfig(key ConfigKey, out []byte) (int, []byte, error)

	// SetPause is an advisory hint; any subsequent Read or Seek implicitly
	// unpauses.
	SetPause(pause bool) error
}

// PreferredChunkSize is implemented by handlers that want to override the
// cache's derived chunk size (spec.md §4.E.1: "handler's preferred chunk
// size for streaming"). Handlers that don't care simply don't implement it.
type PreferredChunkSize interface {
	PreferredChunkSize() int64
}

// Opener is implemented by a registered provider: given a URI and access
// mode it produces a fresh Handler.
type Opener interface {
	Open(ctx context.Context, uri string, access Access) (Handler, error)
	// ProbeParser returns a parser-kind hint for uri without opening it,
	// or ParserUnknown to fall back to extension sniffing.
	ProbeParser(uri string) ParserKind
}

// OpenerFunc adapts a plain open function to the Opener interface for
// providers that don't need a custom ProbeParser.
type OpenerFunc func(ctx context.Context, uri string, access Access) (Handler, error)

func (f OpenerFunc) Open(ctx context.Context, uri string, access Access) (Handler, error) {
	return f(ctx, uri, access)
}

func (f OpenerFunc) ProbeParser(uri string) ParserKind { return ParserUnknown }

// Error wraps a handler-layer failure with the operation and scheme that
// produced it, following the teacher's *ToxNetError convention so callers
// can errors.Is/errors.As against the sentinels above.
type Error struct {
	Op     string
	Scheme string
	Err    error
}

func (e *Error) Error() string {
	if e.Scheme != "" {
		return fmt.Sprintf("handler %s %s: %v", e.Op, e.Scheme, e.Err)
	}
	return fmt.Sprintf("handler %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error wrapping err with operation and scheme context.
func NewError(op, scheme string, err error) *Error {
	return &Error{Op: op, Scheme: scheme, Err: err}
}
