package pipe

import (
	"context"
	"sync"

	"github.com/opd-ai/mediapipe/handler"
)

// fakeHandler is an in-memory handler.Handler over a byte slice, used by
// the cache tests in place of a real file or network source.
type fakeHandler struct {
	mu          sync.Mutex
	data        []byte
	pos         int64
	streaming   bool
	prefChunk   int64
	readLimit   int // max bytes returned per Read call, 0 = unlimited
	closed      bool
}

func newFakeHandler(data []byte, streaming bool) *fakeHandler {
	return &fakeHandler{data: data, streaming: streaming}
}

func (f *fakeHandler) Version() int { return handler.Version }

func (f *fakeHandler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandler) Read(ctx context.Context, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= int64(len(f.data)) {
		return 0, handler.ErrEOS
	}
	n := copy(buf, f.data[f.pos:])
	if f.readLimit > 0 && n > f.readLimit {
		n = f.readLimit
	}
	f.pos += int64(n)
	return n, nil
}

func (f *fakeHandler) Write(ctx context.Context, buf []byte) (int, error) {
	return 0, handler.ErrNotImplemented
}

func (f *fakeHandler) Seek(ctx context.Context, offset int64, origin handler.SeekOrigin) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch origin {
	case handler.OriginBegin:
		f.pos = offset
	case handler.OriginCurrent:
		f.pos += offset
	case handler.OriginEnd:
		f.pos = int64(len(f.data)) + offset
	default:
		return 0, handler.ErrNotSupported
	}
	return f.pos, nil
}

func (f *fakeHandler) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeHandler) Size() int64 {
	if f.streaming {
		return -1
	}
	return int64(len(f.data))
}

func (f *fakeHandler) IsStreaming() bool { return f.streaming }

func (f *fakeHandler) QueryConfig(key handler.ConfigKey, out []byte) (int, []byte, error) {
	return 0, nil, handler.ErrNotSupported
}

func (f *fakeHandler) SetPause(pause bool) error { return nil }

func (f *fakeHandler) PreferredChunkSize() int64 { return f.prefChunk }

func newFakeRegistry(h handler.Handler) *handler.Registry {
	reg := handler.NewRegistry()
	reg.Register("fake://", handler.OpenerFunc(func(ctx context.Context, uri string, access handler.Access) (handler.Handler, error) {
		return h, nil
	}))
	return reg
}
