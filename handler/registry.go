package handler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opd-ai/mediapipe/internal/logging"
)

var log = logging.For("handler")

// Registry is the process-wide scheme-prefix -> Opener map described in
// spec.md §4.A. A Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	openers  map[string]Opener // scheme prefix, e.g. "http://" -> Opener
	rtspHint func(uri string) bool
}

// NewRegistry returns an empty Registry; no scheme, not even file://, is
// registered. Callers wire in file://, http:// and rtsp:// via Register
// (package main composes
// the concrete handler/httpsrc and rtsp packages to avoid an import cycle
// between handler and rtsp).
func NewRegistry() *Registry {
	return &Registry{
		openers: make(map[string]Opener),
	}
}

// Register installs opener for every URI whose scheme matches prefix
// (e.g. "rtsp://"). Registering the same prefix twice replaces the prior
// entry.
func (r *Registry) Register(prefix string, opener Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[prefix] = opener
	log.WithField("scheme", prefix).Debug("registered protocol handler")
}

// RegisterRTSPSniffer installs the predicate used to decide whether a
// "http://...sdp" URI should resolve to the RTSP opener instead of the
// plain HTTP one, per spec.md §4.A ("http: with .sdp in path => RTSP").
func (r *Registry) RegisterRTSPSniffer(isRTSP func(uri string) bool, rtspOpener Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rtspHint = isRTSP
	r.openers["rtsp-sniffed://"] = rtspOpener
}

// Unregister removes a previously registered prefix.
func (r *Registry) Unregister(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.openers, prefix)
}

// FreeAll tears down the registry, releasing every registered entry. It
// mirrors spec.md §4.A's "free-all-protocols" teardown hook.
func (r *Registry) FreeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers = make(map[string]Opener)
	r.rtspHint = nil
}

// resolve implements the scheme-prefix matching rule: no scheme => file
// handler; "http:" with ".sdp" in the path => RTSP; otherwise the first
// matching registered scheme prefix.
func (r *Registry) resolve(uri string) (Opener, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !strings.Contains(uri, "://") {
		opener, ok := r.openers["file://"]
		if !ok {
			return nil, fmt.Errorf("handler: no file:// handler registered")
		}
		return opener, nil
	}

	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		if r.rtspHint != nil && r.rtspHint(uri) {
			if opener, ok := r.openers["rtsp-sniffed://"]; ok {
				return opener, nil
			}
		}
	}

	for prefix, opener := range r.openers {
		if prefix == "rtsp-sniffed://" {
			continue
		}
		if strings.HasPrefix(uri, prefix) {
			return opener, nil
		}
	}
	return nil, fmt.Errorf("handler: no handler registered for %q", uri)
}

// Open resolves uri to a registered Opener and opens it.
func (r *Registry) Open(ctx context.Context, uri string, access Access) (Handler, error) {
	opener, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	h, err := opener.Open(ctx, uri, access)
	if err != nil {
		return nil, NewError("open", uri, err)
	}
	return h, nil
}

// ProbeParser returns the resolved opener's parser-kind hint for uri, or
// ParserUnknown if no opener matches or the opener has no opinion.
func (r *Registry) ProbeParser(uri string) ParserKind {
	opener, err := r.resolve(uri)
	if err != nil {
		return ParserUnknown
	}
	return opener.ProbeParser(uri)
}

// IsSDPURL reports whether uri names an SDP resource via HTTP, the
// condition spec.md §4.A uses to route http:// to the RTSP handler.
func IsSDPURL(uri string) bool {
	return strings.Contains(strings.ToLower(uri), ".sdp")
}
