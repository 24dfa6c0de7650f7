package rtp

// CodecKind identifies which depacketizer a stream uses, derived from the
// SDP rtpmap codec name (spec.md §4.D.3).
type CodecKind int

const (
	CodecUnknown CodecKind = iota
	CodecAMRNB
	CodecAMRWB
	CodecAACGeneric // RFC 3640 non-interleaved hbr
	CodecAACLATM    // RFC 3016
	CodecH263
	CodecMPEG4Visual
	CodecH264
	CodecASF // ASF-in-RTP carrier
	CodecVC1
)

// Reassembled is one fully reassembled access unit ready for the reorder
// queue: a frame/AU/NAL plus the timestamp it should carry downstream.
type Reassembled struct {
	Timestamp uint32
	Payload   []byte
}

// Depacketizer is a pure transformation over one incoming RTP packet,
// producing zero or more reassembled access units, per spec.md §4.B/4.C:
// "pure transformations over (in_buf, ts, seq, M) -> 0..k reassembled
// packets, with per-stream state held in a codec-specific context
// structure." Each codec gets its own struct implementing this interface;
// NewStream picks the right one once, via NewDepacketizer, when the stream
// is created.
type Depacketizer interface {
	// Depacketize consumes one RTP packet (already CSRC/extension
	// stripped) and returns zero or more reassembled access units.
	Depacketize(pkt Packet) ([]Reassembled, error)

	// Kind reports which codec this depacketizer implements, for logging
	// and tests.
	Kind() CodecKind
}

// NewDepacketizer constructs the depacketizer matching kind. cfg carries
// the fmtp-derived parameters (e.g. AAC's "config=<hex>"); streams that
// don't need any pass the zero CodecConfig.
func NewDepacketizer(kind CodecKind, cfg CodecConfig) Depacketizer {
	switch kind {
	case CodecAMRNB:
		return newAMRDepacketizer(false)
	case CodecAMRWB:
		return newAMRDepacketizer(true)
	case CodecAACGeneric:
		return newAACGenericDepacketizer(cfg)
	case CodecAACLATM:
		return newAACLATMDepacketizer(cfg)
	case CodecH263:
		return newH263Depacketizer()
	case CodecMPEG4Visual:
		return newPassthroughDepacketizer(CodecMPEG4Visual)
	case CodecH264:
		return newH264Depacketizer(cfg)
	case CodecASF:
		return newASFDepacketizer(cfg)
	case CodecVC1:
		return newVC1Depacketizer()
	default:
		return newPassthroughDepacketizer(CodecUnknown)
	}
}

// CodecConfig carries the subset of SDP fmtp parameters (spec.md §4.D.3)
// a depacketizer constructor needs. Fields irrelevant to a given codec are
// simply left zero.
type CodecConfig struct {
	ConfigHex            string // generic "config=<hex>" AudioSpecificConfig
	Mode                 string // "AAC-hbr" | "AAC-lbr"
	SizeLength           int
	IndexLength          int
	IndexDeltaLength     int
	ProfileLevelID       string
	Bitrate              int
	CPresent             bool
	Object               int
	SBREnabled           bool
	SpropParameterSets   string // H.264 SPS/PPS, comma separated base64
	PacketizationMode    int
	SpropInterleavingDepth int
	SpropMaxDonDiff        int
	SpropInitBufTime       int
	SpropDeintBufReq       int
	MaxASFPacketSize       int
}

// passthroughDepacketizer handles codecs whose RTP payload is already a
// complete access unit per packet (MPEG-4 visual, spec.md §4.D.5).
type passthroughDepacketizer struct{ kind CodecKind }

func newPassthroughDepacketizer(kind CodecKind) *passthroughDepacketizer {
	return &passthroughDepacketizer{kind: kind}
}

func (d *passthroughDepacketizer) Kind() CodecKind { return d.kind }

func (d *passthroughDepacketizer) Depacketize(pkt Packet) ([]Reassembled, error) {
	return []Reassembled{{Timestamp: pkt.Timestamp, Payload: pkt.Payload}}, nil
}
