// Package pipe implements the caching content pipe of spec.md §4.E: a
// chunked ring-buffer cache that sits between a handler.Handler and a
// parser, so callers get zero-copy lends, seek-with-cache-hit detection
// and streaming-aware pre-buffering without every parser reimplementing
// them.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/mediapipe/handler"
	"github.com/opd-ai/mediapipe/internal/config"
	"github.com/opd-ai/mediapipe/internal/logging"
)

var log = logging.For("pipe")

// Status codes returned by the read-path operations of spec.md §4.E.1/§4.E.6.
var (
	ErrInsufficientBytes = errors.New("pipe: insufficient bytes cached")
	ErrAtEOS             = errors.New("pipe: at end of stream")
	ErrNotReady          = errors.New("pipe: not ready")
	ErrOutOfBuffers      = errors.New("pipe: out of read-buffer borrows")
	ErrNotInvalidated    = errors.New("pipe: chunk not invalidated")
	ErrNoData            = errors.New("pipe: requested size exceeds high_mark")
	ErrNotInitialized    = errors.New("pipe: cache not initialized")
)

// ClientCallback is invoked with the current bytes_available count whenever
// a waiting reader could make progress, or at EOS (spec.md §4.E.1 item 15).
type ClientCallback func(bytesAvailable int64)

// Options configures Initialize, corresponding to spec.md §4.E.1 item 2's
// (min, max, spare) triple plus the threshold fractions.
type Options struct {
	MinBytes            int64
	MaxBytes            int64
	SpareBytes          int64
	HighMarkFraction    float64
	ReadTriggerFraction float64
}

// Cache is the caching content pipe. The zero value is not usable; create
// one with Open.
type Cache struct {
	writeLock sync.Mutex // guards do-read / producer state transitions
	availLock sync.Mutex // guards bytes_available, heads, EOS, pause
	chunkLock sync.Mutex // guards chunk table and borrow table

	h        handler.Handler
	uri      string
	size     int64
	streaming bool

	pool  []byte
	spare []byte

	spareInUse bool

	chunks           []chunk
	chunkSize        int64
	totalChunks      int
	nextChunkToWrite int
	fullyCached      bool

	readHead  int64 // byte offset into pool
	writeHead int64 // byte offset into pool
	position  int64 // absolute source offset the read head currently represents

	bytesAvailable int64
	highMark       int64
	readTrigger    int64
	triggered      bool

	eos             bool
	paused          bool
	hardStopped     bool
	initialized     bool
	invalidating    bool
	clientWaiting   bool

	borrows []borrow

	workerWake chan struct{}
	shutdown   chan struct{}
	wg         sync.WaitGroup

	callback ClientCallback

	actualSeekTime int64
}

// chunk is one fixed-size slot of the pool, per spec.md §4.E.2.
type chunk struct {
	status   chunkStatus
	origin   int64 // source offset this chunk currently holds
	size     int64 // valid bytes in this chunk (may be < chunkSize for the tail)
	borrowed int   // outstanding borrow count
}

type chunkStatus int

const (
	chunkInvalid chunkStatus = iota
	chunkFilling
	chunkFull
	chunkPendingInvalidate
)

// borrow is one outstanding read-buffer lend (spec.md §4.E.1 items 5/6).
type borrow struct {
	inUse      bool
	chunkIndex int // -1 when the borrow points into the spare area
	spare      bool
}

// Open resolves uri through reg, opens the handler and returns an
// uninitialized Cache (spec.md §4.E.1 item 1). Call Initialize before
// Read/ReadBuffer/Seek.
func Open(ctx context.Context, reg *handler.Registry, uri string, access handler.Access) (*Cache, error) {
	h, err := reg.Open(ctx, uri, access)
	if err != nil {
		return nil, err
	}
	return &Cache{
		h:         h,
		uri:       uri,
		size:      h.Size(),
		streaming: h.IsStreaming(),
	}, nil
}

// Initialize allocates the pool and spare area and starts the producer
// thread, per spec.md §4.E.1 item 2. On allocation failure it shrinks the
// requested size by 1 MiB and retries down to opts.MinBytes.
func (c *Cache) Initialize(ctx context.Context, opts Options) error {
	if opts.HighMarkFraction == 0 {
		opts.HighMarkFraction = 0.75
	}
	if opts.ReadTriggerFraction == 0 {
		opts.ReadTriggerFraction = 0.25
	}

	poolMax := opts.MaxBytes
	spareMax := opts.SpareBytes
	if c.streaming {
		if poolMax > config.StreamingPoolCap() {
			poolMax = config.StreamingPoolCap()
		}
		if spareMax > config.StreamingSpareCap() {
			spareMax = config.StreamingSpareCap()
		}
	}
	if !c.streaming && c.size > 0 && poolMax > c.size {
		poolMax = c.size
	}

	poolSize, err := c.allocatePool(poolMax, opts.MinBytes)
	if err != nil {
		return err
	}
	c.spare = make([]byte, spareMax)

	prefSize := int64(0)
	if pc, ok := c.h.(handler.PreferredChunkSize); ok {
		prefSize = pc.PreferredChunkSize()
	}
	c.chunkSize = deriveChunkSize(prefSize, poolSize, c.size, c.streaming)
	c.totalChunks = int((poolSize + c.chunkSize - 1) / c.chunkSize)
	c.highMark = int64(float64(poolSize) * opts.HighMarkFraction)
	c.readTrigger = int64(float64(poolSize) * opts.ReadTriggerFraction)

	c.chunks = make([]chunk, c.totalChunks)
	c.fullyCached = !c.streaming && c.size > 0 && poolSize >= c.size
	if c.fullyCached {
		for i := range c.chunks {
			c.chunks[i].origin = int64(i) * c.chunkSize
		}
	}

	c.workerWake = make(chan struct{}, 1)
	c.shutdown = make(chan struct{})
	c.initialized = true

	c.wg.Add(1)
	go c.producerLoop()
	c.wakeWorker()

	if c.streaming {
		if pre := c.preBufferAmount(); pre > 0 {
			c.waitForBytes(ctx, pre)
		}
	}
	return nil
}

// allocatePool implements the "shrink by 1 MiB and retry down to min"
// allocation-failure policy of spec.md §4.E.1. A plain make([]byte, n) in
// Go does not fail the way a C allocator can, but the retry loop still
// honors the requested shrink floor so configured minimums are respected.
func (c *Cache) allocatePool(max, min int64) (int64, error) {
	size := max
	for size >= min {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.pool = nil
				}
			}()
			c.pool = make([]byte, size)
		}()
		if c.pool != nil {
			return size, nil
		}
		size -= 1 << 20
	}
	return 0, fmt.Errorf("pipe: could not allocate pool of at least %d bytes", min)
}

// deriveChunkSize computes chunk_size per spec.md §4.E.1: the handler's
// preferred size for streaming, else pool/32 floored at 256 KiB, clamped
// to the file size.
func deriveChunkSize(preferred, pool, fileSize int64, streaming bool) int64 {
	var size int64
	if streaming && preferred > 0 {
		size = preferred
	} else {
		size = pool / 32
		if size < config.MinChunkSize() {
			size = config.MinChunkSize()
		}
	}
	if fileSize > 0 && size > fileSize {
		size = fileSize
	}
	if size <= 0 {
		size = config.MinChunkSize()
	}
	return size
}

func (c *Cache) preBufferAmount() int64 {
	n, buf, err := c.h.QueryConfig(handler.ConfigPreBufferAmount, nil)
	if err != nil || n != 8 {
		return 0
	}
	_, buf, err = c.h.QueryConfig(handler.ConfigPreBufferAmount, make([]byte, n))
	if err != nil {
		return 0
	}
	return int64(beUint64(buf))
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func (c *Cache) waitForBytes(ctx context.Context, n int64) {
	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		c.availLock.Lock()
		ok := c.bytesAvailable >= n || c.eos
		c.availLock.Unlock()
		if ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
		}
	}
}

func (c *Cache) wakeWorker() {
	select {
	case c.workerWake <- struct{}{}:
	default:
	}
}

// Close signals shutdown, joins the producer and frees resources
// (spec.md §4.E.1 item 3), including the "never initialized" path.
func (c *Cache) Close() error {
	if !c.initialized {
		if c.h != nil {
			return c.h.Close()
		}
		return nil
	}
	close(c.shutdown)
	c.wakeWorker()
	c.wg.Wait()
	c.pool = nil
	c.spare = nil
	return c.h.Close()
}

// RegisterClientCallback installs the single BytesAvailable callback
// (spec.md §4.E.1 item 15).
func (c *Cache) RegisterClientCallback(cb ClientCallback) { c.callback = cb }

func (c *Cache) notify() {
	c.availLock.Lock()
	n := c.bytesAvailable
	c.clientWaiting = false
	c.availLock.Unlock()
	if c.callback != nil {
		c.callback(n)
	}
}

// GetPositionEx reports the continuous cached range around the read head
// (spec.md §4.E.1 item 10), waking the producer if the contiguous run
// ahead of the read head drops under 1.5 MiB.
type PositionEx struct {
	DataBegin, DataCur, DataEnd int64
	DataFirst, DataLast         int64
}

func (c *Cache) GetPositionEx() PositionEx {
	c.availLock.Lock()
	p := PositionEx{
		DataCur:   c.position,
		DataBegin: c.position - c.readHead,
		DataEnd:   c.position + c.bytesAvailable,
	}
	if c.bytesAvailable < (3 << 20 / 2) {
		c.wakeWorker()
	}
	c.availLock.Unlock()

	p.DataFirst, p.DataLast = c.cachedExtent()
	return p
}

// cachedExtent scans chunk state for the full span of data currently held
// in cache (DataFirst/DataLast), which may run wider than the contiguous
// run immediately around the read head that DataBegin/DataEnd describe.
func (c *Cache) cachedExtent() (first, last int64) {
	c.chunkLock.Lock()
	defer c.chunkLock.Unlock()

	first, last = -1, -1
	for _, ch := range c.chunks {
		if ch.status != chunkFull && ch.status != chunkPendingInvalidate {
			continue
		}
		if first == -1 || ch.origin < first {
			first = ch.origin
		}
		if end := ch.origin + ch.size; last == -1 || end > last {
			last = end
		}
	}
	if first == -1 {
		first, last = 0, 0
	}
	return first, last
}

// GetPosition64 returns the current logical read position.
func (c *Cache) GetPosition64() int64 {
	c.availLock.Lock()
	defer c.availLock.Unlock()
	return c.position
}

// GetSize returns the handler-reported size, or -1 if unknown.
func (c *Cache) GetSize() int64 { return c.size }

// GetAvailableBytes returns bytes_available.
func (c *Cache) GetAvailableBytes() int64 {
	c.availLock.Lock()
	defer c.availLock.Unlock()
	return c.bytesAvailable
}

// PauseCaching toggles the producer's run-permission and forwards to the
// handler when streaming (spec.md §4.E.1 item 13).
func (c *Cache) PauseCaching(pause bool) error {
	c.availLock.Lock()
	c.paused = pause
	c.availLock.Unlock()
	if !pause {
		c.wakeWorker()
	}
	if c.streaming {
		return c.h.SetPause(pause)
	}
	return nil
}

// StopCaching enables the hard-stop path: reads go directly to the
// handler on the caller's thread, bypassing the cache entirely
// (spec.md §4.E.1 item 14).
func (c *Cache) StopCaching() {
	c.availLock.Lock()
	c.hardStopped = true
	c.availLock.Unlock()
}

// StartCaching disables hard-stop mode and resumes normal cached reads.
func (c *Cache) StartCaching() {
	c.availLock.Lock()
	c.hardStopped = false
	c.availLock.Unlock()
	c.wakeWorker()
}

// InvalidateCache marks every FULL chunk INVALID immediately, or
// pending-invalidate if currently borrowed (spec.md §4.E.1 item 12).
func (c *Cache) InvalidateCache() {
	c.chunkLock.Lock()
	defer c.chunkLock.Unlock()

	anyPending := false
	for i := range c.chunks {
		switch c.chunks[i].status {
		case chunkFull:
			if c.chunks[i].borrowed > 0 {
				c.chunks[i].status = chunkPendingInvalidate
				anyPending = true
			} else {
				c.chunks[i].status = chunkInvalid
			}
		case chunkPendingInvalidate:
			anyPending = true
		}
	}
	c.invalidating = anyPending
	c.availLock.Lock()
	c.bytesAvailable = 0
	c.eos = false
	c.availLock.Unlock()
	c.wakeWorker()
}
