package rtsp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NEM wire format, verbatim from spec.md §3/§6 ("wire-stable for parser
// compatibility"):
//
//	FileHeader  = magic:u32('NvMM') size:u32 version:u32(=1) streams:u32 indexOffset:u64(=0)
//	PacketHdr   = tag:u16('ah'|'vh'|'da') streamIndex:u16 size:u32 flags:u32 timestamp:u64(100ns)
//	AudioFmt    = codec:u32 duration:u64(100ns) sampleRate:u32 bitRate:u32 channels:u32 bps:u32
//	VideoFmt    = codec:u32 duration:u64(100ns) width:u32 height:u32 fps:u32(Q16.16) bitRate:u32
//	flags bits  = 1:ENDOFPACKET 2:SKIPPACKET
const (
	nemMagic   = 0x4D4D764E // "NvMM" little-endian read as u32
	nemVersion = 1

	nemTagAudioHeader uint16 = 'a'<<8 | 'h'
	nemTagVideoHeader uint16 = 'v'<<8 | 'h'
	nemTagData        uint16 = 'd'<<8 | 'a'

	NEMFlagEndOfPacket uint32 = 1 << 0
	NEMFlagSkipPacket  uint32 = 1 << 1
)

// AudioFormat is the per-stream audio format packet body.
type AudioFormat struct {
	Codec      uint32
	DurationNS uint64
	SampleRate uint32
	BitRate    uint32
	Channels   uint32
	BitsPerSample uint32
}

// VideoFormat is the per-stream video format packet body.
type VideoFormat struct {
	Codec      uint32
	DurationNS uint64
	Width      uint32
	Height     uint32
	FPSQ16     uint32 // frames per second, Q16.16 fixed point
	BitRate    uint32
}

// DataPacketHeader precedes every media payload in the NEM stream.
type DataPacketHeader struct {
	Tag         uint16
	StreamIndex uint16
	Size        uint32
	Flags       uint32
	TimestampNS uint64
}

// writeFileHeader writes the NEM file header: magic, total header size,
// version 1, stream count, index offset 0 (spec.md §4.D.9 item 1).
func writeFileHeader(w *bytes.Buffer, streamCount uint32) {
	var hdr bytes.Buffer
	binary.Write(&hdr, binary.LittleEndian, uint32(nemMagic))
	binary.Write(&hdr, binary.LittleEndian, uint32(0)) // size patched below
	binary.Write(&hdr, binary.LittleEndian, uint32(nemVersion))
	binary.Write(&hdr, binary.LittleEndian, streamCount)
	binary.Write(&hdr, binary.LittleEndian, uint64(0)) // indexOffset

	raw := hdr.Bytes()
	binary.LittleEndian.PutUint32(raw[4:8], uint32(len(raw)))
	w.Write(raw)
}

func writeAudioFormat(w *bytes.Buffer, streamIndex uint16, f AudioFormat) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, f.Codec)
	binary.Write(&body, binary.LittleEndian, f.DurationNS)
	binary.Write(&body, binary.LittleEndian, f.SampleRate)
	binary.Write(&body, binary.LittleEndian, f.BitRate)
	binary.Write(&body, binary.LittleEndian, f.Channels)
	binary.Write(&body, binary.LittleEndian, f.BitsPerSample)

	writeDataPacketHeader(w, DataPacketHeader{
		Tag:         nemTagAudioHeader,
		StreamIndex: streamIndex,
		Size:        uint32(body.Len()),
	})
	w.Write(body.Bytes())
}

func writeVideoFormat(w *bytes.Buffer, streamIndex uint16, f VideoFormat) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, f.Codec)
	binary.Write(&body, binary.LittleEndian, f.DurationNS)
	binary.Write(&body, binary.LittleEndian, f.Width)
	binary.Write(&body, binary.LittleEndian, f.Height)
	binary.Write(&body, binary.LittleEndian, f.FPSQ16)
	binary.Write(&body, binary.LittleEndian, f.BitRate)

	writeDataPacketHeader(w, DataPacketHeader{
		Tag:         nemTagVideoHeader,
		StreamIndex: streamIndex,
		Size:        uint32(body.Len()),
	})
	w.Write(body.Bytes())
}

func writeDataPacketHeader(w *bytes.Buffer, h DataPacketHeader) {
	binary.Write(w, binary.LittleEndian, h.Tag)
	binary.Write(w, binary.LittleEndian, h.StreamIndex)
	binary.Write(w, binary.LittleEndian, h.Size)
	binary.Write(w, binary.LittleEndian, h.Flags)
	binary.Write(w, binary.LittleEndian, h.TimestampNS)
}

// writeDataPacket appends one 'da' data packet: header followed by
// payload (spec.md §4.D.9 item 3).
func writeDataPacket(w *bytes.Buffer, streamIndex uint16, payload []byte, flags uint32, timestampNS uint64) {
	writeDataPacketHeader(w, DataPacketHeader{
		Tag:         nemTagData,
		StreamIndex: streamIndex,
		Size:        uint32(len(payload)),
		Flags:       flags,
		TimestampNS: timestampNS,
	})
	w.Write(payload)
}

// ticksToHundredNS converts RTP clock ticks to 100ns units given a
// clock rate, per spec.md's timestamp convention throughout §3/§4.D.9.
func ticksToHundredNS(ticks uint32, clockRate uint32) uint64 {
	if clockRate == 0 {
		return 0
	}
	return uint64(ticks) * 10_000_000 / uint64(clockRate)
}

// codecTagFor maps an SDP codec name to the NEM AudioFormat/VideoFormat
// codec tag by packing the name's first four bytes little-endian. The
// exact FourCC space is NvMM-internal and is not reproduced.
func codecTagFor(name string) uint32 {
	var tag uint32
	for i := 0; i < len(name) && i < 4; i++ {
		tag |= uint32(name[i]) << (8 * i)
	}
	return tag
}

var errUnknownStreamIndex = fmt.Errorf("rtsp: nem: unknown stream index")
