package pipe

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/opd-ai/mediapipe/handler"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func openFakeCache(t *testing.T, data []byte, streaming bool, opts Options) *Cache {
	t.Helper()
	h := newFakeHandler(data, streaming)
	reg := newFakeRegistry(h)
	c, err := Open(context.Background(), reg, "fake://x", handler.AccessRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Initialize(context.Background(), opts); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestFullCacheHitAfterSeek exercises spec.md §4.E.5's fully-cached
// cache-hit path: once the file is fully cached, seeking back to offset 0
// succeeds and the next read returns the file's leading bytes.
func TestFullCacheHitAfterSeek(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 2<<20)
	c := openFakeCache(t, data, false, Options{MinBytes: 2 << 20, MaxBytes: 2 << 20, SpareBytes: 64 << 10})

	waitUntil(t, 5*time.Second, func() bool { return c.GetAvailableBytes() >= int64(len(data)) || c.Stats().EOS })

	buf := make([]byte, 4096)
	if _, err := c.Read(context.Background(), buf); err != nil {
		t.Fatalf("initial read: %v", err)
	}

	if _, err := c.Seek(context.Background(), 0, handler.OriginBegin); err != nil {
		t.Fatalf("seek: %v", err)
	}

	n, err := c.Read(context.Background(), buf)
	if err != nil {
		t.Fatalf("read after seek: %v", err)
	}
	if !bytes.Equal(buf[:n], data[:n]) {
		t.Fatalf("data mismatch after cache-hit seek")
	}
}

// TestStreamingPartialCacheTrigger checks that bytes_available grows past
// half of high_mark under a streaming handler, that a 300 KiB read then
// succeeds, and that bytes are still available afterwards.
func TestStreamingPartialCacheTrigger(t *testing.T) {
	data := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 256<<10) // 1 MiB
	c := openFakeCache(t, data, true, Options{MinBytes: 512 << 10, MaxBytes: 512 << 10, SpareBytes: 32 << 10})

	waitUntil(t, 5*time.Second, func() bool { return c.GetAvailableBytes() > c.Stats().HighMark/2 })

	buf := make([]byte, 300<<10)
	if _, err := c.Read(context.Background(), buf); err != nil {
		t.Fatalf("read: %v", err)
	}

	waitUntil(t, 5*time.Second, func() bool { return c.GetAvailableBytes() > 0 })
}

// TestReadBufferStraddlingPoolEnd forces the read head near the pool end
// so that a ReadBuffer request straddles the wraparound and must be
// served from the spare area.
func TestReadBufferStraddlingPoolEnd(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 1<<20)
	c := openFakeCache(t, data, false, Options{MinBytes: 256 << 10, MaxBytes: 256 << 10, SpareBytes: 64 << 10})

	waitUntil(t, 5*time.Second, func() bool { return c.GetAvailableBytes() >= 512 })

	poolSize := int64(len(c.pool))
	c.availLock.Lock()
	c.readHead = poolSize - 100
	c.bytesAvailable = 512
	c.availLock.Unlock()

	bb, err := c.ReadBuffer(200, false)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if len(bb.Data) != 200 {
		t.Fatalf("expected 200 bytes, got %d", len(bb.Data))
	}
	c.ReleaseReadBuffer(bb)
}

// TestInvalidateWithBorrowOutstanding checks that invalidating the cache
// while a borrow is outstanding defers that chunk to pending-invalidate
// instead of dropping it from under the borrower, and that releasing the
// borrow clears the pending state.
func TestInvalidateWithBorrowOutstanding(t *testing.T) {
	data := bytes.Repeat([]byte{0x9}, 1<<20)
	c := openFakeCache(t, data, false, Options{MinBytes: 512 << 10, MaxBytes: 512 << 10, SpareBytes: 32 << 10})

	waitUntil(t, 5*time.Second, func() bool { return c.GetAvailableBytes() > 0 })

	bb, err := c.ReadBuffer(64, false)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}

	c.InvalidateCache()

	c.chunkLock.Lock()
	found := false
	for _, ch := range c.chunks {
		if ch.status == chunkPendingInvalidate {
			found = true
		}
	}
	c.chunkLock.Unlock()
	if !found {
		t.Fatalf("expected at least one pending-invalidate chunk while borrowed")
	}

	c.ReleaseReadBuffer(bb)

	c.chunkLock.Lock()
	stillPending := false
	for _, ch := range c.chunks {
		if ch.status == chunkPendingInvalidate {
			stillPending = true
		}
	}
	c.chunkLock.Unlock()
	if stillPending {
		t.Fatalf("expected pending-invalidate to clear after release")
	}
}
