package pipe

import (
	"context"
	"errors"

	"github.com/opd-ai/mediapipe/handler"
)

// ErrBadOffset is returned when a Begin-origin seek targets past EOF.
var ErrBadOffset = errors.New("pipe: seek offset past end of file")

// Seek implements seek-64 (spec.md §4.E.5) for all four origins.
func (c *Cache) Seek(ctx context.Context, offset int64, origin handler.SeekOrigin) (int64, error) {
	switch origin {
	case handler.OriginTime:
		return c.seekTime(ctx, offset)
	case handler.OriginCurrent:
		abs, err := c.resolveCurrent(offset)
		if err != nil {
			return 0, err
		}
		return c.seekAbsolute(ctx, abs)
	case handler.OriginEnd:
		abs := c.size + offset
		if abs > c.size {
			abs = c.size
		}
		return c.seekAbsolute(ctx, abs)
	default: // OriginBegin
		if c.size > 0 && offset > c.size {
			return 0, ErrBadOffset
		}
		return c.seekAbsolute(ctx, offset)
	}
}

func (c *Cache) resolveCurrent(delta int64) (int64, error) {
	c.availLock.Lock()
	defer c.availLock.Unlock()
	return c.position + delta, nil
}

func (c *Cache) seekTime(ctx context.Context, offsetHundredNS int64) (int64, error) {
	if c.h.Version() < 2 {
		return 0, handler.ErrNotSupported
	}
	n, buf, err := c.h.QueryConfig(handler.ConfigCanSeekByTime, nil)
	if err != nil || n != 1 {
		return 0, handler.ErrNotSupported
	}
	_, buf, err = c.h.QueryConfig(handler.ConfigCanSeekByTime, make([]byte, n))
	if err != nil || len(buf) == 0 || buf[0] == 0 {
		return 0, handler.ErrNotSupported
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.InvalidateCache()
	c.findNextChunkToWrite(c.position)

	pos, err := c.h.Seek(ctx, offsetHundredNS, handler.OriginTime)
	if err != nil {
		return 0, err
	}
	c.availLock.Lock()
	c.paused = false
	c.position = pos
	c.availLock.Unlock()
	c.actualSeekTime = c.queryActualSeekTime(offsetHundredNS)
	c.wakeWorker()
	return pos, nil
}

// queryActualSeekTime reads the handler's ConfigActualSeekTime (the time
// it actually landed on, which may differ from the requested offset when
// the source can only seek to keyframe boundaries), falling back to the
// requested offset if the handler doesn't support the query.
func (c *Cache) queryActualSeekTime(requested int64) int64 {
	n, _, err := c.h.QueryConfig(handler.ConfigActualSeekTime, nil)
	if err != nil || n != 8 {
		return requested
	}
	_, buf, err := c.h.QueryConfig(handler.ConfigActualSeekTime, make([]byte, n))
	if err != nil || len(buf) != 8 {
		return requested
	}
	return int64(beUint64(buf))
}

// seekAbsolute implements the fully-cached and streaming/partial branches
// of spec.md §4.E.5 for an already-resolved absolute byte offset.
func (c *Cache) seekAbsolute(ctx context.Context, abs int64) (int64, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if c.fullyCached {
		return c.seekFullyCached(ctx, abs)
	}
	return c.seekPartial(ctx, abs)
}

func (c *Cache) seekFullyCached(ctx context.Context, abs int64) (int64, error) {
	idx := int(abs / c.chunkSize)
	if idx < 0 || idx >= len(c.chunks) {
		return 0, ErrBadOffset
	}

	c.chunkLock.Lock()
	status := c.chunks[idx].status
	c.chunkLock.Unlock()

	if status == chunkInvalid || status == chunkPendingInvalidate {
		if _, err := c.h.Seek(ctx, c.chunks[idx].origin, handler.OriginBegin); err != nil {
			return 0, err
		}
		c.availLock.Lock()
		c.bytesAvailable = 0
		c.position = abs
		c.availLock.Unlock()
		c.nextChunkToWrite = idx
		c.PauseCaching(false)
		c.wakeWorker()
		return abs, nil
	}

	// cache-hit: place read at offset, count the tail of this chunk plus
	// every contiguous following FULL non-invalidated chunk.
	c.chunkLock.Lock()
	intra := abs - c.chunks[idx].origin
	total := c.chunks[idx].size - intra
	eos := false
	for i := 1; idx+i < len(c.chunks); i++ {
		ch := c.chunks[idx+i]
		if ch.status != chunkFull {
			break
		}
		total += ch.size
		if idx+i == len(c.chunks)-1 {
			eos = true
		}
	}
	c.chunkLock.Unlock()

	c.availLock.Lock()
	c.position = abs
	c.readHead = (int64(idx)*c.chunkSize + intra) % int64(len(c.pool))
	c.bytesAvailable = total
	c.eos = eos
	c.availLock.Unlock()
	return abs, nil
}

func (c *Cache) seekPartial(ctx context.Context, abs int64) (int64, error) {
	c.chunkLock.Lock()
	foundIdx := -1
	for i, ch := range c.chunks {
		if ch.status == chunkFull && abs >= ch.origin && abs < ch.origin+ch.size {
			foundIdx = i
			break
		}
	}
	c.chunkLock.Unlock()

	if foundIdx == -1 {
		if _, err := c.h.Seek(ctx, abs, handler.OriginBegin); err != nil {
			return 0, err
		}
		c.availLock.Lock()
		c.bytesAvailable = 0
		c.eos = false
		c.position = abs
		c.availLock.Unlock()
		c.findNextChunkToWrite(abs)
		c.PauseCaching(false)
		c.wakeWorker()
		return abs, nil
	}

	c.chunkLock.Lock()
	intra := abs - c.chunks[foundIdx].origin
	total := c.chunks[foundIdx].size - intra
	next := (foundIdx + 1) % c.totalChunks
	expectedOrigin := c.chunks[foundIdx].origin + c.chunks[foundIdx].size
	for i := 0; i < c.totalChunks-1; i++ {
		ch := c.chunks[next]
		if ch.status != chunkFull || ch.origin != expectedOrigin {
			break
		}
		total += ch.size
		expectedOrigin += ch.size
		next = (next + 1) % c.totalChunks
	}
	c.chunkLock.Unlock()

	handlerPos := c.h.Position()
	if handlerPos != expectedOrigin && next != c.nextChunkToWrite {
		c.h.Seek(ctx, expectedOrigin, handler.OriginBegin)
		c.eos = false
	}

	c.availLock.Lock()
	c.position = abs
	c.bytesAvailable = total
	c.availLock.Unlock()
	return abs, nil
}

// findNextChunkToWrite selects the first chunk not currently borrowed
// (scanning forward then wrapping), assigns it the requested offset and
// marks it INVALID, per spec.md §4.E.5.
func (c *Cache) findNextChunkToWrite(offset int64) {
	c.chunkLock.Lock()
	defer c.chunkLock.Unlock()

	for i := 0; i < len(c.chunks); i++ {
		idx := (c.nextChunkToWrite + i) % len(c.chunks)
		if c.chunks[idx].borrowed == 0 {
			c.chunks[idx].origin = offset
			c.chunks[idx].status = chunkInvalid
			c.nextChunkToWrite = idx

			c.availLock.Lock()
			c.readHead = int64(idx) * c.chunkSize % int64(len(c.pool))
			c.writeHead = c.readHead
			c.bytesAvailable = 0
			if c.size > 0 && offset == c.size {
				c.eos = true
			} else {
				c.eos = false
			}
			c.availLock.Unlock()
			return
		}
	}
}
