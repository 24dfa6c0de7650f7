package rtp

import "fmt"

// aacGenericDepacketizer reassembles RFC 3640 non-interleaved "hbr"
// AAC-over-RTP: an AU-header block (sizeLength/indexLength bits per
// header) followed by that many access units back to back, one
// reassembled packet emitted per AU (spec.md §4.D.5).
type aacGenericDepacketizer struct {
	sizeLength  int
	indexLength int
}

func newAACGenericDepacketizer(cfg CodecConfig) *aacGenericDepacketizer {
	sizeLength := cfg.SizeLength
	if sizeLength == 0 {
		sizeLength = 13 // RFC 3640 default for AAC-hbr
	}
	indexLength := cfg.IndexLength
	if indexLength == 0 {
		indexLength = 3
	}
	return &aacGenericDepacketizer{sizeLength: sizeLength, indexLength: indexLength}
}

func (d *aacGenericDepacketizer) Kind() CodecKind { return CodecAACGeneric }

// bitReader reads an MSB-first bitstream, used for the AU-header section.
type bitReader struct {
	buf  []byte
	bitp int
}

func (r *bitReader) readBits(n int) (int, error) {
	v := 0
	for i := 0; i < n; i++ {
		byteIdx := r.bitp / 8
		if byteIdx >= len(r.buf) {
			return 0, fmt.Errorf("rtp: aac: bit reader ran past end of header")
		}
		bitIdx := 7 - (r.bitp % 8)
		bit := (r.buf[byteIdx] >> bitIdx) & 1
		v = (v << 1) | int(bit)
		r.bitp++
	}
	return v, nil
}

func (d *aacGenericDepacketizer) Depacketize(pkt Packet) ([]Reassembled, error) {
	buf := pkt.Payload
	if len(buf) < 2 {
		return nil, fmt.Errorf("rtp: aac: payload too short for AU-headers-length")
	}
	auHeadersLengthBits := int(buf[0])<<8 | int(buf[1])
	headerBytes := (auHeadersLengthBits + 7) / 8
	if 2+headerBytes > len(buf) {
		return nil, fmt.Errorf("rtp: aac: truncated AU-header section")
	}

	br := &bitReader{buf: buf[2 : 2+headerBytes]}
	auHeaderBits := d.sizeLength + d.indexLength
	if auHeaderBits <= 0 {
		return nil, fmt.Errorf("rtp: aac: invalid AU-header size")
	}
	numHeaders := auHeadersLengthBits / auHeaderBits

	type auHeader struct{ size int }
	headers := make([]auHeader, 0, numHeaders)
	for i := 0; i < numHeaders; i++ {
		size, err := br.readBits(d.sizeLength)
		if err != nil {
			return nil, err
		}
		if _, err := br.readBits(d.indexLength); err != nil {
			return nil, err
		}
		headers = append(headers, auHeader{size: size})
	}

	pos := 2 + headerBytes
	out := make([]Reassembled, 0, len(headers))
	for _, h := range headers {
		if pos+h.size > len(buf) {
			return out, fmt.Errorf("rtp: aac: truncated AU (need %d, have %d)", h.size, len(buf)-pos)
		}
		au := make([]byte, h.size)
		copy(au, buf[pos:pos+h.size])
		pos += h.size
		out = append(out, Reassembled{Timestamp: pkt.Timestamp, Payload: au})
	}
	return out, nil
}
