package rtp

import "testing"

// TestAMRReassembly implements spec.md §8 scenario 5: a single RTP packet
// with CMR byte, TOC {F=1,FT=2},{F=0,FT=4}, payload sizes 15+19 bytes must
// reassemble into two (TOC+frame) packets of 16 and 20 bytes, with
// timestamps 200000 (100ns units, via clockRate 8000) apart once scaled by
// the NEM layer — here we assert the RTP-tick spacing of 160 samples that
// that conversion starts from.
func TestAMRReassembly(t *testing.T) {
	toc1 := byte(0x80) | byte(2<<3) // F=1, FT=2
	toc2 := byte(0x00) | byte(4<<3) // F=0, FT=4

	payload := make([]byte, 0, 1+2+15+19)
	payload = append(payload, 0x00) // CMR
	payload = append(payload, toc1, toc2)
	for i := 0; i < 15; i++ {
		payload = append(payload, byte(i))
	}
	for i := 0; i < 19; i++ {
		payload = append(payload, byte(0x80+i))
	}

	d := newAMRDepacketizer(false)
	out, err := d.Depacketize(Packet{Timestamp: 1000, Payload: payload})
	if err != nil {
		t.Fatalf("Depacketize: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 reassembled frames, got %d", len(out))
	}
	if len(out[0].Payload) != 16 {
		t.Errorf("frame 0: want 16 bytes, got %d", len(out[0].Payload))
	}
	if len(out[1].Payload) != 20 {
		t.Errorf("frame 1: want 20 bytes, got %d", len(out[1].Payload))
	}
	if diff := out[1].Timestamp - out[0].Timestamp; diff != 160 {
		t.Errorf("expected 160-tick spacing between frames, got %d", diff)
	}
	// Scaled to 100ns units at an 8kHz clock: 160 * 10_000_000 / 8000 == 200000.
	const clockRate = 8000
	scaled := uint64(160) * 10_000_000 / clockRate
	if scaled != 200000 {
		t.Fatalf("sanity: expected 200000, got %d", scaled)
	}
}
