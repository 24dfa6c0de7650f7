package rtsp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteFileHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	writeFileHeader(&buf, 2)

	raw := buf.Bytes()
	if len(raw) != 24 {
		t.Fatalf("expected 24-byte file header, got %d", len(raw))
	}
	if got := binary.LittleEndian.Uint32(raw[0:4]); got != nemMagic {
		t.Fatalf("bad magic: %x", got)
	}
	if got := binary.LittleEndian.Uint32(raw[4:8]); got != uint32(len(raw)) {
		t.Fatalf("size field %d does not match actual length %d", got, len(raw))
	}
	if got := binary.LittleEndian.Uint32(raw[8:12]); got != nemVersion {
		t.Fatalf("bad version: %d", got)
	}
	if got := binary.LittleEndian.Uint32(raw[12:16]); got != 2 {
		t.Fatalf("bad stream count: %d", got)
	}
}

func TestWriteDataPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{1, 2, 3, 4, 5}
	writeDataPacket(&buf, 1, payload, NEMFlagEndOfPacket, 12345)

	raw := buf.Bytes()
	const headerSize = 2 + 2 + 4 + 4 + 8
	if len(raw) != headerSize+len(payload) {
		t.Fatalf("expected %d bytes, got %d", headerSize+len(payload), len(raw))
	}
	if tag := binary.LittleEndian.Uint16(raw[0:2]); tag != nemTagData {
		t.Fatalf("bad tag: %x", tag)
	}
	if idx := binary.LittleEndian.Uint16(raw[2:4]); idx != 1 {
		t.Fatalf("bad stream index: %d", idx)
	}
	if size := binary.LittleEndian.Uint32(raw[4:8]); size != uint32(len(payload)) {
		t.Fatalf("bad size: %d", size)
	}
	if flags := binary.LittleEndian.Uint32(raw[8:12]); flags != NEMFlagEndOfPacket {
		t.Fatalf("bad flags: %x", flags)
	}
	if !bytes.Equal(raw[headerSize:], payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestTicksToHundredNS(t *testing.T) {
	// 90000 ticks at a 90kHz clock is exactly one second, i.e. 10,000,000
	// 100ns units.
	if got := ticksToHundredNS(90000, 90000); got != 10_000_000 {
		t.Fatalf("expected 10000000, got %d", got)
	}
	if got := ticksToHundredNS(100, 0); got != 0 {
		t.Fatalf("expected 0 for zero clock rate, got %d", got)
	}
}
