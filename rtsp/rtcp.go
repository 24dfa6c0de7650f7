package rtsp

import (
	"github.com/pion/rtcp"
)

// senderReportInfo is the subset of an RTCP SR this client retains per
// stream (spec.md §3/§4.D.8).
type senderReportInfo struct {
	ntpHi, ntpLo uint32
	rtpTimestamp uint32
}

// sdesInfo mirrors the per-stream SDES slots spec.md §3 lists.
type sdesInfo struct {
	cname, name, email, phone, loc, tool, note, priv string
}

// appInfo is the latest APP packet seen for a stream.
type appInfo struct {
	name    [4]byte
	payload []byte
}

// rtcpTrackState accumulates the RTCP-derived state for one stream,
// updated by parseRTCP and read by streamHandle.QueryConfig through
// Session.sdesField (handler.ConfigRTCP*).
type rtcpTrackState struct {
	lastSR senderReportInfo
	sdes   sdesInfo
	app    appInfo
	gotBye bool
}

// parseRTCP decodes a compound RTCP packet using pion/rtcp and folds the
// SR/SDES/APP/BYE content into dst, per spec.md §4.D.8.
func parseRTCP(buf []byte, dst *rtcpTrackState) error {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return &ProtocolError{Op: "parse-rtcp", Err: err}
	}
	for _, p := range packets {
		switch pkt := p.(type) {
		case *rtcp.SenderReport:
			dst.lastSR = senderReportInfo{
				ntpHi:        uint32(pkt.NTPTime >> 32),
				ntpLo:        uint32(pkt.NTPTime & 0xFFFFFFFF),
				rtpTimestamp: pkt.RTPTime,
			}
		case *rtcp.SourceDescription:
			for _, chunk := range pkt.Chunks {
				for _, item := range chunk.Items {
					applySDESItem(&dst.sdes, item)
				}
			}
		case *rtcp.Goodbye:
			dst.gotBye = true
		case *rtcp.RawPacket:
			if isAPPPacket(pkt) {
				dst.app = appInfo{payload: append([]byte(nil), pkt[8:]...)}
			}
		}
	}
	return nil
}

// isAPPPacket detects PT=204 (APP) in a RawPacket's header byte, since
// pion/rtcp only gives us typed decoders for SR/RR/SDES/BYE and falls
// back to RawPacket for anything else, including APP.
func isAPPPacket(raw rtcp.RawPacket) bool {
	return len(raw) >= 2 && raw[1] == 204
}

func applySDESItem(dst *sdesInfo, item rtcp.SourceDescriptionItem) {
	switch item.Type {
	case rtcp.SDESCNAME:
		dst.cname = item.Text
	case rtcp.SDESName:
		dst.name = item.Text
	case rtcp.SDESEmail:
		dst.email = item.Text
	case rtcp.SDESPhone:
		dst.phone = item.Text
	case rtcp.SDESLocation:
		dst.loc = item.Text
	case rtcp.SDESTool:
		dst.tool = item.Text
	case rtcp.SDESNote:
		dst.note = item.Text
	case rtcp.SDESPrivate:
		dst.priv = item.Text
	}
}

// buildReceiverReport constructs the RR spec.md §4.D.8 specifies: V=2,
// RC=1, PT=201, one report block per stream with fraction-lost=0,
// DLSR=0, jitter=0 (this client does not compute them), carrying the
// highest extended sequence number seen and the middle 32 bits of the
// last SR's NTP timestamp.
func buildReceiverReport(ssrc uint32, tracks []rrTrackInput) ([]byte, error) {
	reports := make([]rtcp.ReceptionReport, 0, len(tracks))
	for _, t := range tracks {
		reports = append(reports, rtcp.ReceptionReport{
			SSRC:               t.ssrc,
			FractionLost:       0,
			TotalLost:          0,
			LastSequenceNumber: uint32(t.highestExtSeq),
			Jitter:             0,
			LastSenderReport:   ntpMiddle32(t.lastSR),
			Delay:              0,
		})
	}
	rr := &rtcp.ReceiverReport{SSRC: ssrc, Reports: reports}
	return rr.Marshal()
}

// rrTrackInput is the per-stream data buildReceiverReport needs to fill in
// one report block.
type rrTrackInput struct {
	ssrc          uint32
	highestExtSeq uint64
	lastSR        senderReportInfo
}

// ntpMiddle32 extracts the middle 32 bits of a 64-bit NTP timestamp, the
// "LSR" field RFC 3550 §6.4.1 defines.
func ntpMiddle32(sr senderReportInfo) uint32 {
	full := uint64(sr.ntpHi)<<32 | uint64(sr.ntpLo)
	return uint32(full >> 16)
}
