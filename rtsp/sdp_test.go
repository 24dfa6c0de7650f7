package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=Session\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"t=0 0\r\n" +
	"a=range:npt=0-123.456\r\n" +
	"a=control:*\r\n" +
	"m=audio 0 RTP/AVP 97\r\n" +
	"a=rtpmap:97 AMR/8000\r\n" +
	"a=fmtp:97 octet-align=1\r\n" +
	"a=control:trackID=1\r\n" +
	"m=video 0 RTP/AVP 98\r\n" +
	"a=rtpmap:98 H264/90000\r\n" +
	"a=fmtp:98 packetization-mode=1;sprop-parameter-sets=Z0IACpY=,aM48gA==\r\n" +
	"a=control:trackID=2\r\n"

func TestParseSDPTracksAndDuration(t *testing.T) {
	sess, err := parseSDP([]byte(sampleSDP), "rtsp://host/path")
	require.NoError(t, err)
	require.True(t, sess.durationKnown)
	require.Equal(t, 123.456, sess.durationSecs)
	require.Len(t, sess.streams, 2)

	audio := sess.streams[0]
	require.False(t, audio.isVideo)
	require.Equal(t, "AMR", audio.codecName)
	require.EqualValues(t, 8000, audio.clockRate)

	video := sess.streams[1]
	require.True(t, video.isVideo)
	require.Equal(t, "H264", video.codecName)
	require.EqualValues(t, 90000, video.clockRate)
	require.Equal(t, 1, video.cfg.PacketizationMode)
	require.Equal(t, "rtsp://host/path/trackID=1", audio.controlURL)
}

func TestParseRangeLiveSentinel(t *testing.T) {
	sess, err := parseSDP([]byte("v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=s\r\nt=0 0\r\na=range:npt=now-\r\nm=audio 0 RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\n"), "rtsp://host")
	require.NoError(t, err)
	require.True(t, sess.isLive, "expected isLive true for npt=now-")
}

func TestDuplicateMediaOfSameKindSkipped(t *testing.T) {
	sdp := "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=s\r\nt=0 0\r\n" +
		"m=audio 0 RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\n" +
		"m=audio 0 RTP/AVP 8\r\na=rtpmap:8 PCMA/8000\r\n"
	sess, err := parseSDP([]byte(sdp), "rtsp://host")
	require.NoError(t, err)
	require.Len(t, sess.streams, 2)
	require.False(t, sess.streams[0].skip, "first audio stream should not be skipped")
	require.True(t, sess.streams[1].skip, "second audio stream should be marked skip")
}
