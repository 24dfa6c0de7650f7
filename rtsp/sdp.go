package rtsp

import (
	"encoding/base64"
	"strconv"
	"strings"

	pionsdp "github.com/pion/sdp/v3"

	"github.com/opd-ai/mediapipe/rtp"
)

// maxTracks is the per-session stream cap spec.md §4.D.3 ("Track counts
// are capped at eight").
const maxTracks = 8

// sdpStreamDesc holds everything parsed out of one SDP media section
// before it is turned into an rtp.Stream. pion/sdp gives us the generic
// session/media structure and raw attribute strings; everything
// NvMM/codec-specific below is parsed from those attribute strings
// ourselves, per spec.md §4.D.3.
type sdpStreamDesc struct {
	isVideo       bool
	skip          bool // duplicate media of the same kind past the first
	payloadType   uint8
	codecName     string
	clockRate     uint32
	channels      uint8
	controlURL    string
	cfg           rtp.CodecConfig
	width, height uint32
	avgBitRate    uint32
	bandwidthAS   uint32
}

// sdpSession is the parsed result of a DESCRIBE response body.
type sdpSession struct {
	baseURL       string
	streams       []sdpStreamDesc
	durationKnown bool
	durationSecs  float64
	isLive        bool
	asfHeader     []byte // recovered from a=pgmpu, when the carrier is ASF-in-RTP
	maxASFPacket  int
}

// parseSDP parses a DESCRIBE response body relative to baseURL.
func parseSDP(body []byte, baseURL string) (*sdpSession, error) {
	var desc pionsdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, &ProtocolError{Op: "parse-sdp", Err: err}
	}

	sess := &sdpSession{baseURL: baseURL}

	if base, ok := lookupAttr(desc.Attributes, "control"); ok {
		sess.baseURL = resolveURL(baseURL, base)
	}

	for _, m := range desc.MediaDescriptions {
		if len(sess.streams) >= maxTracks {
			break
		}
		stream := parseMediaDescription(m, sess.baseURL)
		if stream.isVideo {
			if hasVideo(sess.streams) {
				stream.skip = true
			}
		} else {
			if hasAudio(sess.streams) {
				stream.skip = true
			}
		}
		sess.streams = append(sess.streams, stream)
	}

	for _, a := range desc.Attributes {
		applySessionAttribute(sess, a)
	}

	return sess, nil
}

func hasVideo(streams []sdpStreamDesc) bool {
	for _, s := range streams {
		if s.isVideo && !s.skip {
			return true
		}
	}
	return false
}

func hasAudio(streams []sdpStreamDesc) bool {
	for _, s := range streams {
		if !s.isVideo && !s.skip {
			return true
		}
	}
	return false
}

func parseMediaDescription(m *pionsdp.MediaDescription, baseURL string) sdpStreamDesc {
	s := sdpStreamDesc{
		isVideo: m.MediaName.Media == "video",
	}
	if len(m.MediaName.Formats) > 0 {
		if pt, err := strconv.Atoi(m.MediaName.Formats[0]); err == nil {
			s.payloadType = uint8(pt)
		}
	}
	s.controlURL = baseURL

	for _, a := range m.Attributes {
		applyMediaAttribute(&s, a, baseURL)
	}
	return s
}

func applyMediaAttribute(s *sdpStreamDesc, a pionsdp.Attribute, baseURL string) {
	switch a.Key {
	case "control":
		s.controlURL = resolveURL(baseURL, a.Value)
	case "rtpmap":
		parseRTPMap(s, a.Value)
	case "fmtp":
		parseFMTP(s, a.Value)
	case "Width":
		s.width = parseUint32(a.Value)
	case "Height":
		s.height = parseUint32(a.Value)
	case "AvgBitRate":
		s.avgBitRate = parseUint32(a.Value)
	}
}

func applySessionAttribute(sess *sdpSession, a pionsdp.Attribute) {
	switch a.Key {
	case "range":
		parseRangeAttribute(sess, a.Value)
	case "pgmpu":
		// a=pgmpu:data:application/vnd.ms.wms-hdr.asfv1;base64,<...>
		if idx := strings.LastIndex(a.Value, "base64,"); idx >= 0 {
			if raw, err := base64.StdEncoding.DecodeString(a.Value[idx+len("base64,"):]); err == nil {
				sess.asfHeader = raw
			}
		}
	case "maxps":
		if n, err := strconv.Atoi(a.Value); err == nil {
			sess.maxASFPacket = n
		}
	}
}

// parseRangeAttribute handles "a=range:npt=0-123.4" and the live-streaming
// sentinel forms "npt=now-" / "npt=now".
func parseRangeAttribute(sess *sdpSession, v string) {
	const prefix = "npt="
	if !strings.HasPrefix(v, prefix) {
		return
	}
	rng := strings.TrimPrefix(v, prefix)
	if rng == "now" {
		sess.isLive = true
		return
	}
	parts := strings.SplitN(rng, "-", 2)
	if len(parts) != 2 {
		return
	}
	if parts[0] == "now" {
		sess.isLive = true
		return
	}
	if parts[1] == "" {
		// open-ended range; duration unknown unless start is itself "now"
	}
	if end, err := strconv.ParseFloat(parts[1], 64); err == nil {
		sess.durationSecs = end
		sess.durationKnown = true
	}
}

// parseRTPMap handles "a=rtpmap:<pt> <codec>/<rate>[/<channels>]".
func parseRTPMap(s *sdpStreamDesc, v string) {
	fields := strings.SplitN(v, " ", 2)
	if len(fields) != 2 {
		return
	}
	rest := strings.Split(fields[1], "/")
	s.codecName = strings.ToUpper(rest[0])
	if len(rest) > 1 {
		if rate, err := strconv.Atoi(rest[1]); err == nil {
			s.clockRate = uint32(rate)
		}
	}
	if len(rest) > 2 {
		if ch, err := strconv.Atoi(rest[2]); err == nil {
			s.channels = uint8(ch)
		}
	}
}

// parseFMTP handles "a=fmtp:<pt> key=value;key=value;...", covering the
// codec parameter keys enumerated in spec.md §4.D.3.
func parseFMTP(s *sdpStreamDesc, v string) {
	fields := strings.SplitN(v, " ", 2)
	if len(fields) != 2 {
		return
	}
	for _, kv := range strings.Split(fields[1], ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := ""
		if len(parts) == 2 {
			val = strings.TrimSpace(parts[1])
		}
		applyFMTPKey(&s.cfg, key, val)
	}
}

func applyFMTPKey(cfg *rtp.CodecConfig, key, val string) {
	switch key {
	case "config":
		cfg.ConfigHex = val
	case "mode":
		cfg.Mode = val
	case "sizelength":
		cfg.SizeLength = atoiOr(val, 0)
	case "indexlength":
		cfg.IndexLength = atoiOr(val, 0)
	case "indexdeltalength":
		cfg.IndexDeltaLength = atoiOr(val, 0)
	case "profile-level-id":
		cfg.ProfileLevelID = val
	case "bitrate":
		cfg.Bitrate = atoiOr(val, 0)
	case "cpresent":
		cfg.CPresent = val == "1"
	case "object":
		cfg.Object = atoiOr(val, 0)
	case "sbr-enabled":
		cfg.SBREnabled = val == "1"
	case "sprop-parameter-sets":
		cfg.SpropParameterSets = val
	case "packetization-mode":
		cfg.PacketizationMode = atoiOr(val, 0)
	case "sprop-interleaving-depth":
		cfg.SpropInterleavingDepth = atoiOr(val, 0)
	case "sprop-max-don-diff":
		cfg.SpropMaxDonDiff = atoiOr(val, 0)
	case "sprop-init-buf-time":
		cfg.SpropInitBufTime = atoiOr(val, 0)
	case "sprop-deint-buf-req":
		cfg.SpropDeintBufReq = atoiOr(val, 0)
	}
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseUint32(s string) uint32 {
	n, _ := strconv.ParseUint(s, 10, 32)
	return uint32(n)
}

func lookupAttr(attrs []pionsdp.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// codecKindFromName maps an SDP rtpmap codec name to an rtp.CodecKind,
// selecting the depacketizer per spec.md §4.D.3.
func codecKindFromName(name string, wideband bool) rtp.CodecKind {
	switch name {
	case "AMR":
		return rtp.CodecAMRNB
	case "AMR-WB":
		return rtp.CodecAMRWB
	case "MPEG4-GENERIC":
		return rtp.CodecAACGeneric
	case "MP4A-LATM":
		return rtp.CodecAACLATM
	case "H263", "H263-1998", "H263-2000":
		return rtp.CodecH263
	case "MP4V-ES":
		return rtp.CodecMPEG4Visual
	case "H264":
		return rtp.CodecH264
	case "X-ASF-PF":
		return rtp.CodecASF
	case "VC1", "X-VC1":
		return rtp.CodecVC1
	default:
		return rtp.CodecUnknown
	}
}

// resolveURL joins a (possibly relative) control URL against the session
// base URL, per spec.md §4.D.3 ("a=control: sets the per-stream control
// URL (absolute or relative to session base)").
func resolveURL(base, ref string) string {
	if strings.Contains(ref, "://") {
		return ref
	}
	if ref == "*" {
		return base
	}
	if strings.HasSuffix(base, "/") {
		return base + ref
	}
	return base + "/" + ref
}
