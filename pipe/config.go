package pipe

import "github.com/opd-ai/mediapipe/handler"

// GetConfig implements spec.md §4.E.7's get-config keys that the cache
// itself answers (CacheSize, ActualSeekTime) or forwards to the handler
// (MetaInterval, TimeStamps, the RTCP-related keys).
func (c *Cache) GetConfig(key handler.ConfigKey, out []byte) (int, []byte, error) {
	switch key {
	case handler.ConfigCacheSize:
		return writeUint64(out, uint64(len(c.pool)))
	case handler.ConfigActualSeekTime:
		return writeUint64(out, uint64(c.actualSeekTime))
	default:
		return c.h.QueryConfig(key, out)
	}
}

// SetConfig implements spec.md §4.E.7's set-config keys: the threshold
// pair updates high_mark/read_trigger under the write-lock.
func (c *Cache) SetConfig(key handler.ConfigKey, value int64) error {
	switch key {
	case handler.ConfigThresholdHighMark:
		c.writeLock.Lock()
		c.highMark = value
		c.writeLock.Unlock()
		return nil
	case handler.ConfigThresholdLowMark:
		c.writeLock.Lock()
		c.readTrigger = value
		c.writeLock.Unlock()
		return nil
	default:
		return handler.ErrNotSupported
	}
}

func writeUint64(out []byte, v uint64) (int, []byte, error) {
	if out == nil {
		return 8, nil, nil
	}
	if len(out) < 8 {
		return 8, nil, handler.ErrBadParameter
	}
	for i := 0; i < 8; i++ {
		out[7-i] = byte(v >> (8 * i))
	}
	return 8, out[:8], nil
}

// Stats is an observability snapshot grounded on spec.md §4.E (NEW)
// Observability (logrus fields: bytes_available, high_mark, eos, paused).
type Stats struct {
	BytesAvailable int64
	HighMark       int64
	ReadTrigger    int64
	EOS            bool
	Paused         bool
	HardStopped    bool
	TotalChunks    int
	ChunkSize      int64
}

func (c *Cache) Stats() Stats {
	c.availLock.Lock()
	defer c.availLock.Unlock()
	return Stats{
		BytesAvailable: c.bytesAvailable,
		HighMark:       c.highMark,
		ReadTrigger:    c.readTrigger,
		EOS:            c.eos,
		Paused:         c.paused,
		HardStopped:    c.hardStopped,
		TotalChunks:    c.totalChunks,
		ChunkSize:      c.chunkSize,
	}
}
