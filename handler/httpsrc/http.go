// Package httpsrc implements handler.Opener for HTTP progressive-download
// and live sources. It implements only the contract the cache relies on
// (spec.md §1): open, bounded/unbounded size, ranged re-open, chunked or
// plain reads, a prebuffer hint, an optional metadata interval, and a pause
// hint — not a general-purpose HTTP client.
package httpsrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/mediapipe/handler"
	"github.com/opd-ai/mediapipe/internal/logging"
)

var log = logging.For("handler.httpsrc")

// connectTimeout matches spec.md §5's "HTTP connect uses 30x100ms windows".
const connectTimeout = 30 * 100 * time.Millisecond

// defaultPreBufferAmount is the number of bytes the cache should
// prebuffer before handing control back to the caller (spec.md §4.E.1
// item 2).
const defaultPreBufferAmount = 64 << 10

// Opener implements handler.Opener for http:// and https:// URIs that are
// not sniffed as SDP (see handler.IsSDPURL / Registry.RegisterRTSPSniffer).
type Opener struct {
	Client *http.Client
}

// New returns an httpsrc.Opener whose client sets no overall timeout;
// reopen applies connectTimeout to each request instead.
func New() *Opener {
	return &Opener{Client: &http.Client{Timeout: 0}}
}

func (Opener) ProbeParser(uri string) handler.ParserKind {
	switch {
	case strings.Contains(uri, ".mp4"):
		return handler.ParserMP4
	case strings.Contains(uri, ".asf"), strings.Contains(uri, ".wmv"):
		return handler.ParserASF
	case strings.Contains(uri, ".mp3"):
		return handler.ParserMP3
	default:
		return handler.ParserUnknown
	}
}

func (o *Opener) Open(ctx context.Context, uri string, access handler.Access) (handler.Handler, error) {
	if access != handler.AccessRead {
		return nil, handler.NewError("open", "http", fmt.Errorf("%w: http handler is read-only", handler.ErrNotImplemented))
	}
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	h := &httpHandle{
		client: client,
		uri:    uri,
	}
	if err := h.reopen(ctx, 0); err != nil {
		return nil, err
	}
	return h, nil
}

// httpHandle implements handler.Handler over a (re-openable) HTTP GET
// response body. size is -1 for sources with no Content-Length (live
// streams); isStreaming is true whenever the server does not advertise
// Accept-Ranges or Content-Length, matching spec.md's "HTTP live/MS-WMSP"
// framing.
type httpHandle struct {
	mu          sync.Mutex
	client      *http.Client
	uri         string
	body        io.ReadCloser
	size        int64
	pos         int64
	isStreaming bool
	metaInt     int64
	paused      bool
	closed      bool
}

// reopen issues a ranged (or plain, if from==0 and no prior knowledge of
// range support) GET and replaces the current body, implementing the
// "ranged re-open" contract spec.md §1 requires of HTTP handlers.
func (h *httpHandle) reopen(ctx context.Context, from int64) error {
	reqCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, h.uri, nil)
	if err != nil {
		return handler.NewError("open", "http", fmt.Errorf("%w: %v", handler.ErrBadParameter, err))
	}
	if from > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", from))
	}
	req.Header.Set("Icy-MetaData", "1")

	resp, err := h.client.Do(req)
	if err != nil {
		return handler.NewError("open", "http", fmt.Errorf("%w: %v", handler.ErrTimeout, err))
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return handler.NewError("open", "http", fmt.Errorf("%w: status %d", handler.ErrFileOperation, resp.StatusCode))
	}

	if h.body != nil {
		h.body.Close()
	}
	h.body = resp.Body
	h.pos = from

	size := int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			size = n + from
		}
	}
	h.size = size
	h.isStreaming = size < 0 || resp.Header.Get("Accept-Ranges") != "bytes"

	if mi := resp.Header.Get("icy-metaint"); mi != "" {
		if n, err := strconv.ParseInt(mi, 10, 64); err == nil {
			h.metaInt = n
		}
	}

	log.WithField("uri", h.uri).WithField("size", h.size).WithField("streaming", h.isStreaming).Debug("http source opened")
	return nil
}

func (h *httpHandle) Version() int { return handler.Version }

func (h *httpHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.body != nil {
		return h.body.Close()
	}
	return nil
}

func (h *httpHandle) Read(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false

	n, err := h.body.Read(buf)
	h.pos += int64(n)
	if err == io.EOF {
		if n > 0 {
			return n, nil
		}
		return 0, handler.ErrEOS
	}
	if err != nil {
		if h.isStreaming {
			// transient empty read for a live source, not EOS
			return n, nil
		}
		return n, handler.NewError("read", "http", fmt.Errorf("%w: %v", handler.ErrFileOperation, err))
	}
	return n, nil
}

func (h *httpHandle) Write(ctx context.Context, buf []byte) (int, error) {
	return 0, handler.NewError("write", "http", handler.ErrNotImplemented)
}

// Seek implements re-opening with a Range header for Begin/Current/End
// seeks; Time origin is not supported by plain HTTP (only by the RTSP
// handler).
func (h *httpHandle) Seek(ctx context.Context, offset int64, origin handler.SeekOrigin) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var target int64
	switch origin {
	case handler.OriginBegin:
		target = offset
	case handler.OriginCurrent:
		target = h.pos + offset
	case handler.OriginEnd:
		if h.size < 0 {
			return 0, handler.NewError("seek", "http", fmt.Errorf("%w: size unknown", handler.ErrNotSupported))
		}
		target = h.size + offset
		if target > h.size {
			target = h.size
		}
	case handler.OriginTime:
		return 0, handler.NewError("seek", "http", handler.ErrNotSupported)
	default:
		return 0, handler.NewError("seek", "http", handler.ErrBadParameter)
	}

	if target == h.pos {
		h.paused = false
		return h.pos, nil
	}
	if err := h.reopen(ctx, target); err != nil {
		return 0, err
	}
	return h.pos, nil
}

func (h *httpHandle) Position() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *httpHandle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *httpHandle) IsStreaming() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isStreaming
}

// PreferredChunkSize implements handler.PreferredChunkSize for streaming
// sources per spec.md §4.E.1.
func (h *httpHandle) PreferredChunkSize() int64 { return 32 << 10 }

func (h *httpHandle) QueryConfig(key handler.ConfigKey, out []byte) (int, []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch key {
	case handler.ConfigCanSeekByTime:
		return 0, []byte{0}, nil
	case handler.ConfigPreBufferAmount:
		v := defaultPreBufferAmount
		buf := make([]byte, 8)
		for i := 0; i < 8; i++ {
			buf[7-i] = byte(v >> (8 * i))
		}
		return 8, buf, nil
	case handler.ConfigMetaInterval:
		buf := make([]byte, 8)
		v := h.metaInt
		for i := 0; i < 8; i++ {
			buf[7-i] = byte(v >> (8 * i))
		}
		return 8, buf, nil
	default:
		return 0, nil, handler.NewError("query-config", "http", handler.ErrNotSupported)
	}
}

func (h *httpHandle) SetPause(pause bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = pause
	return nil
}
