package pipe

// prepareForProcessing selects the next chunk to fill, implementing the
// rule order of spec.md §4.E.4. Caller must hold chunkLock.
func (c *Cache) prepareForProcessing() (int, error) {
	c.availLock.Lock()
	eos := c.eos
	readHead := c.readHead
	bytesAvail := c.bytesAvailable
	c.availLock.Unlock()

	if eos {
		return -1, ErrAtEOS
	}

	if c.fullyCached {
		idx, found := c.scanForWritableChunk()
		if found {
			return idx, nil
		}
		if !c.invalidating {
			c.availLock.Lock()
			c.eos = true
			c.availLock.Unlock()
			c.notify()
		}
		return -1, ErrAtEOS
	}

	writeChunkStart := c.writeHead
	if overlapsReadHead(writeChunkStart, c.chunkSize, readHead, bytesAvail, int64(len(c.pool))) {
		return -1, ErrNotReady
	}

	if bytesAvail >= int64(len(c.pool)) {
		return -1, ErrAtEOS
	}

	idx := c.nextChunkToWrite
	if c.chunks[idx].borrowed > 0 {
		return -1, ErrNotReady
	}
	return idx, nil
}

// scanForWritableChunk implements the fully-cached branch of §4.E.4:
// scan from nextChunkToWrite for the first INVALID chunk, or a
// pending-invalidate chunk that is not currently borrowed.
func (c *Cache) scanForWritableChunk() (int, bool) {
	n := len(c.chunks)
	for i := 0; i < n; i++ {
		idx := (c.nextChunkToWrite + i) % n
		switch c.chunks[idx].status {
		case chunkInvalid:
			return idx, true
		case chunkPendingInvalidate:
			if c.chunks[idx].borrowed == 0 {
				return idx, true
			}
		}
	}
	return -1, false
}

// overlapsReadHead reports whether a chunk about to be written at
// writeStart would collide with the still-unread region starting at
// readHead, when unread bytes remain.
func overlapsReadHead(writeStart, chunkSize, readHead, bytesAvail, poolSize int64) bool {
	if bytesAvail <= 0 {
		return false
	}
	readEnd := (readHead + bytesAvail) % poolSize
	writeEnd := (writeStart + chunkSize) % poolSize
	return rangesOverlapRing(writeStart, writeEnd, readHead, readEnd, poolSize)
}

// rangesOverlapRing reports whether the ring intervals [aStart,aEnd) and
// [bStart,bEnd) (each possibly wrapping past poolSize) overlap.
func rangesOverlapRing(aStart, aEnd, bStart, bEnd, poolSize int64) bool {
	contains := func(start, end, point int64) bool {
		if start <= end {
			return point >= start && point < end
		}
		return point >= start || point < end
	}
	return contains(aStart, aEnd, bStart) || contains(bStart, bEnd, aStart)
}
