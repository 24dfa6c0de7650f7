package rtp

import "testing"

func fuaPacket(seq uint16, extSeq uint64, start, end bool, nalType byte, body []byte) Packet {
	fuHeader := nalType & 0x1F
	if start {
		fuHeader |= 0x80
	}
	if end {
		fuHeader |= 0x40
	}
	payload := append([]byte{0x1C /* FU indicator, type=28 */, fuHeader}, body...)
	return Packet{Seq: seq, ExtSeq: extSeq, Payload: payload}
}

// TestH264FUAWithLoss implements spec.md §8 scenario 6: start (seq=100),
// mid (seq=102, gap at 101), end (seq=103). The missing middle fragment
// must drop the whole chain; no NAL is emitted and the lost-packet
// counter increases.
func TestH264FUAWithLoss(t *testing.T) {
	d := newH264Depacketizer(CodecConfig{})

	start := fuaPacket(100, 100, true, false, 5, []byte{0xAA})
	if out, err := d.Depacketize(start); err != nil || len(out) != 0 {
		t.Fatalf("start fragment: out=%v err=%v", out, err)
	}

	mid := fuaPacket(102, 102, false, false, 5, []byte{0xBB})
	out, err := d.Depacketize(mid)
	if err == nil {
		t.Fatalf("expected sequence-gap error, got nil")
	}
	if len(out) != 0 {
		t.Fatalf("expected no NAL emitted on gap, got %d", len(out))
	}

	end := fuaPacket(103, 103, false, true, 5, []byte{0xCC})
	// The chain was already dropped; this continuation has no start to
	// attach to and must also fail without emitting a NAL.
	out2, err2 := d.Depacketize(end)
	if err2 == nil {
		t.Fatalf("expected error for orphan continuation fragment")
	}
	if len(out2) != 0 {
		t.Fatalf("expected no NAL emitted for orphan fragment, got %d", len(out2))
	}

	if d.LostPackets() != 1 {
		t.Errorf("expected lost-packet counter to increase once, got %d", d.LostPackets())
	}
}

func TestH264SingleNALUPassthrough(t *testing.T) {
	d := newH264Depacketizer(CodecConfig{})
	nal := []byte{0x65, 0x01, 0x02, 0x03} // nal_unit_type=5 (IDR slice)
	out, err := d.Depacketize(Packet{Timestamp: 42, Payload: nal})
	if err != nil {
		t.Fatalf("Depacketize: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 NAL, got %d", len(out))
	}
	want := append(append([]byte{}, h264AnnexBStartCode...), nal...)
	if string(out[0].Payload) != string(want) {
		t.Errorf("payload mismatch: got %x want %x", out[0].Payload, want)
	}
}

func TestH264STAPA(t *testing.T) {
	d := newH264Depacketizer(CodecConfig{})
	nal1 := []byte{0x67, 0xAA} // SPS-ish
	nal2 := []byte{0x68, 0xBB} // PPS-ish
	payload := []byte{0x18} // STAP-A indicator (type 24)
	payload = append(payload, byte(len(nal1)>>8), byte(len(nal1)))
	payload = append(payload, nal1...)
	payload = append(payload, byte(len(nal2)>>8), byte(len(nal2)))
	payload = append(payload, nal2...)

	out, err := d.Depacketize(Packet{Timestamp: 7, Payload: payload})
	if err != nil {
		t.Fatalf("Depacketize: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 NALs from STAP-A, got %d", len(out))
	}
}
