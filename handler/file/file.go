// Package file implements handler.Opener for the local filesystem, the
// default provider used when a URI carries no scheme.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opd-ai/mediapipe/handler"
	"github.com/opd-ai/mediapipe/internal/logging"
)

var log = logging.For("handler.file")

// Opener implements handler.Opener for file:// and scheme-less paths.
type Opener struct{}

// New returns a file.Opener ready to register under "file://".
func New() *Opener { return &Opener{} }

func (Opener) ProbeParser(uri string) handler.ParserKind {
	switch {
	case strings.HasSuffix(uri, ".mp4"), strings.HasSuffix(uri, ".m4a"):
		return handler.ParserMP4
	case strings.HasSuffix(uri, ".avi"):
		return handler.ParserAVI
	case strings.HasSuffix(uri, ".asf"), strings.HasSuffix(uri, ".wmv"):
		return handler.ParserASF
	case strings.HasSuffix(uri, ".mkv"):
		return handler.ParserMKV
	case strings.HasSuffix(uri, ".mp3"):
		return handler.ParserMP3
	default:
		return handler.ParserUnknown
	}
}

func (Opener) Open(ctx context.Context, uri string, access handler.Access) (handler.Handler, error) {
	path := strings.TrimPrefix(uri, "file://")

	var flag int
	switch access {
	case handler.AccessRead:
		flag = os.O_RDONLY
	case handler.AccessWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case handler.AccessReadWrite:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, handler.NewError("open", "file", fmt.Errorf("%w: unknown access mode", handler.ErrBadParameter))
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, handler.NewError("open", "file", fmt.Errorf("%w: %v", handler.ErrFileOperation, err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, handler.NewError("stat", "file", fmt.Errorf("%w: %v", handler.ErrFileOperation, err))
	}

	log.WithField("path", path).WithField("size", info.Size()).Debug("opened local file")

	return &fileHandle{f: f, size: info.Size()}, nil
}

// fileHandle implements handler.Handler over *os.File. Local files are
// fully seekable, sized, and never streaming.
type fileHandle struct {
	f      *os.File
	size   int64
	paused bool
	closed bool
}

func (h *fileHandle) Version() int { return handler.Version }

func (h *fileHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.f.Close(); err != nil {
		return handler.NewError("close", "file", fmt.Errorf("%w: %v", handler.ErrFileOperation, err))
	}
	return nil
}

func (h *fileHandle) Read(ctx context.Context, buf []byte) (int, error) {
	h.paused = false
	n, err := h.f.Read(buf)
	if err == io.EOF {
		return n, handler.ErrEOS
	}
	if err != nil {
		return n, handler.NewError("read", "file", fmt.Errorf("%w: %v", handler.ErrFileOperation, err))
	}
	return n, nil
}

func (h *fileHandle) Write(ctx context.Context, buf []byte) (int, error) {
	n, err := h.f.Write(buf)
	if err != nil {
		return n, handler.NewError("write", "file", fmt.Errorf("%w: %v", handler.ErrFileOperation, err))
	}
	return n, nil
}

func (h *fileHandle) Seek(ctx context.Context, offset int64, origin handler.SeekOrigin) (int64, error) {
	h.paused = false
	var whence int
	switch origin {
	case handler.OriginBegin:
		whence = io.SeekStart
	case handler.OriginCurrent:
		whence = io.SeekCurrent
	case handler.OriginEnd:
		whence = io.SeekEnd
	case handler.OriginTime:
		return 0, handler.NewError("seek", "file", handler.ErrNotSupported)
	default:
		return 0, handler.NewError("seek", "file", handler.ErrBadParameter)
	}
	if origin == handler.OriginBegin && offset > h.size {
		return 0, handler.NewError("seek", "file", fmt.Errorf("%w: offset beyond end of file", handler.ErrBadParameter))
	}
	pos, err := h.f.Seek(offset, whence)
	if err != nil {
		return 0, handler.NewError("seek", "file", fmt.Errorf("%w: %v", handler.ErrFileOperation, err))
	}
	return pos, nil
}

func (h *fileHandle) Position() int64 {
	pos, _ := h.f.Seek(0, io.SeekCurrent)
	return pos
}

func (h *fileHandle) Size() int64 { return h.size }

func (h *fileHandle) IsStreaming() bool { return false }

func (h *fileHandle) QueryConfig(key handler.ConfigKey, out []byte) (int, []byte, error) {
	switch key {
	case handler.ConfigCanSeekByTime:
		return 0, []byte{0}, nil
	case handler.ConfigChunkSize:
		return 0, nil, handler.NewError("query-config", "file", handler.ErrNotSupported)
	default:
		return 0, nil, handler.NewError("query-config", "file", handler.ErrNotSupported)
	}
}

func (h *fileHandle) SetPause(pause bool) error {
	h.paused = pause
	return nil
}
