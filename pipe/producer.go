package pipe

import (
	"context"
	"time"

	"github.com/opd-ai/mediapipe/handler"
)

// producerLoop is the worker thread of spec.md §4.E.3: wait on the wake
// signal, then under the write-lock call doRead unless shutdown,
// caching-paused or hard-stopped; sleep briefly to yield.
func (c *Cache) producerLoop() {
	defer c.wg.Done()

	sleep := time.Millisecond
	if c.streaming {
		sleep = 5 * time.Millisecond
	}

	for {
		select {
		case <-c.shutdown:
			return
		case <-c.workerWake:
		case <-time.After(50 * time.Millisecond):
		}

		select {
		case <-c.shutdown:
			return
		default:
		}

		c.availLock.Lock()
		skip := c.paused || c.hardStopped
		c.availLock.Unlock()
		if skip {
			continue
		}

		c.writeLock.Lock()
		err := c.doRead(context.Background())
		c.writeLock.Unlock()

		if err == nil {
			c.wakeWorker()
		}
		time.Sleep(sleep)
	}
}

// doRead implements spec.md §4.E.3 steps 1-9. Caller must hold writeLock.
func (c *Cache) doRead(ctx context.Context) error {
	if !c.fullyCached {
		c.availLock.Lock()
		over := c.bytesAvailable > c.highMark
		c.availLock.Unlock()
		if over {
			c.availLock.Lock()
			c.triggered = false
			c.availLock.Unlock()
			return nil
		}
	}

	c.chunkLock.Lock()
	idx, err := c.prepareForProcessing()
	if err != nil {
		c.chunkLock.Unlock()
		return err
	}
	c.chunks[idx].status = chunkFilling
	c.chunkLock.Unlock()

	var origin int64
	if c.fullyCached {
		origin = c.chunks[idx].origin
		if _, err := c.h.Seek(ctx, origin, handler.OriginBegin); err != nil {
			c.revertChunk(idx)
			return err
		}
	} else {
		origin = c.h.Position()
		if c.size > 0 && origin >= c.size {
			c.markEOS(idx)
			return nil
		}
	}

	readSize := c.chunkSize
	if c.size > 0 {
		remaining := c.size - origin
		if remaining < readSize {
			readSize = remaining
		}
	}
	if readSize <= 0 {
		c.markEOS(idx)
		return nil
	}

	buf := make([]byte, readSize)
	n, err := c.h.Read(ctx, buf)
	if n == 0 && err != nil {
		c.markEOS(idx)
		return nil
	}

	c.chunkLock.Lock()
	c.chunks[idx].status = chunkFull
	c.chunks[idx].origin = origin
	c.chunks[idx].size = int64(n)
	c.chunkLock.Unlock()

	poolOff := int64(idx) * c.chunkSize
	copy(c.pool[poolOff:poolOff+int64(n)], buf[:n])

	c.recomputeAvailable(idx, origin, int64(n))

	c.advanceWriteHead(int64(n))
	c.notify()

	c.decideNextPull(idx)

	c.nextChunkToWrite = (idx + 1) % c.totalChunks
	return nil
}

func (c *Cache) revertChunk(idx int) {
	c.chunkLock.Lock()
	c.chunks[idx].status = chunkInvalid
	c.chunkLock.Unlock()
}

func (c *Cache) markEOS(idx int) {
	c.chunkLock.Lock()
	c.chunks[idx].status = chunkInvalid
	c.chunkLock.Unlock()
	c.availLock.Lock()
	c.eos = true
	c.availLock.Unlock()
	c.notify()
}

// recomputeAvailable implements step 6 of spec.md §4.E.3: for fully-cached
// mode, walk forward from the chunk containing `read` adding contiguous
// FULL non-invalidated chunk sizes; for streaming/partial, just add the
// bytes just read.
func (c *Cache) recomputeAvailable(idx int, origin, n int64) {
	c.availLock.Lock()
	defer c.availLock.Unlock()

	if !c.fullyCached {
		c.bytesAvailable += n
		if c.size > 0 && origin+n >= c.size {
			c.eos = true
		}
		return
	}

	c.chunkLock.Lock()
	readChunk := int((c.position) / c.chunkSize)
	total := int64(0)
	for i := 0; i < c.totalChunks; i++ {
		ci := (readChunk + i) % c.totalChunks
		ch := c.chunks[ci]
		if ch.status != chunkFull {
			break
		}
		total += ch.size
		if ci == c.totalChunks-1 {
			c.eos = true
		}
	}
	c.chunkLock.Unlock()
	c.bytesAvailable = total
}

func (c *Cache) advanceWriteHead(n int64) {
	c.availLock.Lock()
	defer c.availLock.Unlock()
	poolSize := int64(len(c.pool))
	if poolSize == 0 {
		return
	}
	c.writeHead = (c.writeHead + n) % poolSize
}

// decideNextPull implements step 8 of spec.md §4.E.3.
func (c *Cache) decideNextPull(idx int) {
	if c.fullyCached {
		c.wakeWorker()
		return
	}
	c.availLock.Lock()
	below := c.bytesAvailable < c.highMark
	c.availLock.Unlock()
	if below {
		c.wakeWorker()
	} else if c.streaming {
		c.h.SetPause(true)
	}
}
