package pipe

import (
	"context"

	"github.com/opd-ai/mediapipe/handler"
)

// Read implements the blocking read path of spec.md §4.E.6.
func (c *Cache) Read(ctx context.Context, buf []byte) (int, error) {
	if !c.initialized || c.isHardStopped() {
		return c.h.Read(ctx, buf)
	}

	n := int64(len(buf))

	c.availLock.Lock()
	avail := c.bytesAvailable
	eos := c.eos
	c.availLock.Unlock()

	if eos && avail == 0 {
		return 0, handler.ErrEOS
	}

	if avail < n && !eos {
		if c.highMark < n {
			return 0, ErrNoData
		}
		for {
			c.writeLock.Lock()
			err := c.doRead(ctx)
			c.writeLock.Unlock()

			c.availLock.Lock()
			avail = c.bytesAvailable
			eos = c.eos
			c.availLock.Unlock()

			if avail >= n || eos {
				break
			}
			if (err == ErrNotReady || err == ErrNotInvalidated) && avail == 0 {
				if c.fullyCached {
					c.h.Seek(ctx, c.position, handler.OriginBegin)
				}
				return c.h.Read(ctx, buf)
			}
		}
	}

	return c.copyFromRing(buf)
}

func (c *Cache) isHardStopped() bool {
	c.availLock.Lock()
	defer c.availLock.Unlock()
	return c.hardStopped
}

// copyFromRing copies min(len(buf), bytesAvailable) bytes out of the pool,
// handling wraparound with two copies, and applies the read-trigger rule.
func (c *Cache) copyFromRing(buf []byte) (int, error) {
	c.availLock.Lock()
	defer c.availLock.Unlock()

	want := int64(len(buf))
	if want > c.bytesAvailable {
		want = c.bytesAvailable
	}
	if want == 0 {
		return 0, handler.ErrEOS
	}

	poolSize := int64(len(c.pool))
	first := poolSize - c.readHead
	if first > want {
		first = want
	}
	copy(buf[:first], c.pool[c.readHead:c.readHead+first])
	remaining := want - first
	if remaining > 0 {
		copy(buf[first:first+remaining], c.pool[:remaining])
	}

	c.readHead = (c.readHead + want) % poolSize
	c.position += want
	c.bytesAvailable -= want

	if !c.triggered && !c.eos && !c.fullyCached && c.bytesAvailable <= c.readTrigger {
		c.triggered = true
		c.wakeWorkerLocked()
	}
	return int(want), nil
}

func (c *Cache) wakeWorkerLocked() {
	select {
	case c.workerWake <- struct{}{}:
	default:
	}
}

// BorrowedBytes is a zero-copy lend returned by ReadBuffer.
type BorrowedBytes struct {
	Data  []byte
	index int
}

// ReadBuffer lends a contiguous region of the pool (or the spare area when
// the requested range straddles the pool end), per spec.md §4.E.1 item 5
// / §4.E.6.
func (c *Cache) ReadBuffer(n int64, forbidCopy bool) (BorrowedBytes, error) {
	c.availLock.Lock()
	if n > c.bytesAvailable {
		n = c.bytesAvailable
	}
	if n == 0 {
		c.availLock.Unlock()
		if c.eos {
			return BorrowedBytes{}, ErrAtEOS
		}
		return BorrowedBytes{}, ErrInsufficientBytes
	}
	poolSize := int64(len(c.pool))
	straddles := c.readHead+n > poolSize
	readHead := c.readHead
	c.availLock.Unlock()

	c.chunkLock.Lock()
	slot := c.allocateBorrowSlot()
	if slot == -1 {
		c.chunkLock.Unlock()
		return BorrowedBytes{}, ErrOutOfBuffers
	}

	var out []byte
	if straddles {
		if forbidCopy || c.spareInUse || n > int64(len(c.spare)) {
			c.borrows[slot].inUse = false
			c.chunkLock.Unlock()
			return BorrowedBytes{}, ErrOutOfBuffers
		}
		tail := poolSize - readHead
		copy(c.spare[:tail], c.pool[readHead:])
		copy(c.spare[tail:n], c.pool[:n-tail])
		c.spareInUse = true
		c.borrows[slot] = borrow{inUse: true, spare: true, chunkIndex: -1}
		out = c.spare[:n]
	} else {
		idx := int(readHead / c.chunkSize)
		c.chunks[idx].borrowed++
		c.borrows[slot] = borrow{inUse: true, chunkIndex: idx}
		out = c.pool[readHead : readHead+n]
	}
	c.chunkLock.Unlock()

	c.availLock.Lock()
	c.readHead = (readHead + n) % poolSize
	c.position += n
	c.bytesAvailable -= n
	trigger := !c.triggered && !c.eos && !c.fullyCached && c.bytesAvailable <= c.readTrigger
	if trigger {
		c.triggered = true
	}
	c.availLock.Unlock()
	if trigger {
		c.wakeWorker()
	}

	return BorrowedBytes{Data: out, index: slot}, nil
}

func (c *Cache) allocateBorrowSlot() int {
	for i := range c.borrows {
		if !c.borrows[i].inUse {
			c.borrows[i].inUse = true
			return i
		}
	}
	if len(c.borrows) >= 256 {
		return -1
	}
	c.borrows = append(c.borrows, borrow{inUse: true})
	return len(c.borrows) - 1
}

// ReleaseReadBuffer returns a borrow, downgrading pending-invalidate
// chunks once nothing still holds them (spec.md §4.E.1 item 6 / §4.E.6).
func (c *Cache) ReleaseReadBuffer(b BorrowedBytes) {
	c.chunkLock.Lock()
	defer c.chunkLock.Unlock()

	if b.index < 0 || b.index >= len(c.borrows) || !c.borrows[b.index].inUse {
		return
	}
	entry := c.borrows[b.index]
	c.borrows[b.index] = borrow{}

	if entry.spare {
		c.spareInUse = false
		return
	}
	if entry.chunkIndex < 0 || entry.chunkIndex >= len(c.chunks) {
		return
	}
	c.chunks[entry.chunkIndex].borrowed--
	if c.chunks[entry.chunkIndex].borrowed <= 0 && c.chunks[entry.chunkIndex].status == chunkPendingInvalidate {
		c.chunks[entry.chunkIndex].status = chunkInvalid
	}

	if c.invalidating && !c.anyPendingInvalidateLocked() {
		c.invalidating = false
		c.wakeWorker()
	}
}

func (c *Cache) anyPendingInvalidateLocked() bool {
	for _, ch := range c.chunks {
		if ch.status == chunkPendingInvalidate {
			return true
		}
	}
	return false
}

// CheckAvailableBytes implements spec.md §4.E.1 item 7 / §4.E.6.
func (c *Cache) CheckAvailableBytes(n int64) error {
	c.availLock.Lock()
	avail := c.bytesAvailable
	eos := c.eos
	c.availLock.Unlock()

	if n <= avail {
		c.chunkLock.Lock()
		full := c.borrowSlotsFull()
		c.chunkLock.Unlock()
		if full {
			return ErrOutOfBuffers
		}
		return nil
	}
	if eos {
		return ErrAtEOS
	}

	c.availLock.Lock()
	c.clientWaiting = true
	c.availLock.Unlock()
	c.wakeWorker()
	return ErrNotReady
}

func (c *Cache) borrowSlotsFull() bool {
	if len(c.borrows) < 256 {
		return false
	}
	for _, b := range c.borrows {
		if !b.inUse {
			return false
		}
	}
	return true
}
