// Command mediapipe-probe opens an RTSP URL, prints the SDP-derived
// stream info, sets up and plays the session for a short while and then
// prints the session state. It does not read media or report NEM framing
// statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/opd-ai/mediapipe/rtsp"
)

func main() {
	runFor := flag.Duration("for", 3*time.Second, "how long to stay connected gathering stats")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mediapipe-probe [flags] <rtsp-url>")
		os.Exit(2)
	}
	uri := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), *runFor+30*time.Second)
	defer cancel()

	sess, err := rtsp.Dial(ctx, uri, rtsp.DefaultConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer sess.Teardown(ctx)

	if dur, ok := sess.DurationSeconds(); ok {
		fmt.Printf("duration: %.3fs\n", dur)
	} else if sess.IsLive() {
		fmt.Println("duration: live")
	} else {
		fmt.Println("duration: unknown")
	}

	for i, t := range sess.Tracks() {
		kind := "audio"
		if t.IsVideo {
			kind = "video"
		}
		fmt.Printf("track %d: %s codec=%s clock=%d", i, kind, t.CodecName, t.ClockRate)
		if t.IsVideo {
			fmt.Printf(" %dx%d", t.Width, t.Height)
		} else {
			fmt.Printf(" channels=%d", t.Channels)
		}
		fmt.Println()
	}

	if hdr, ok := sess.ASFHeader(); ok {
		fmt.Printf("ASF header recovered: %d bytes\n", len(hdr))
	}

	if err := sess.Setup(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "setup:", err)
		os.Exit(1)
	}
	if err := sess.Play(ctx, 0); err != nil {
		fmt.Fprintln(os.Stderr, "play:", err)
		os.Exit(1)
	}

	time.Sleep(*runFor)
	fmt.Println("state:", sess.GetState())
}
