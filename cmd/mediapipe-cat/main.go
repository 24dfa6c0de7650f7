// Command mediapipe-cat opens a URI through the caching content pipe and
// copies its bytes to stdout, exercising open/initialize/read/seek/close
// end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/mediapipe/handler"
	"github.com/opd-ai/mediapipe/handler/file"
	"github.com/opd-ai/mediapipe/handler/httpsrc"
	"github.com/opd-ai/mediapipe/internal/config"
	"github.com/opd-ai/mediapipe/pipe"
	"github.com/opd-ai/mediapipe/rtsp"
)

func main() {
	seekSeconds := flag.Float64("seek", -1, "seek to this many seconds before reading (time-seek sources only)")
	logLevel := flag.String("log-level", "info", "logrus level")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mediapipe-cat [flags] <uri>")
		os.Exit(2)
	}
	uri := flag.Arg(0)

	lvl, err := logrus.ParseLevel(*logLevel)
	if err == nil {
		logrus.SetLevel(lvl)
	}

	cfg := config.Default()
	reg := handler.NewRegistry()
	reg.Register("file://", file.New())
	reg.Register("http://", httpsrc.New())
	reg.Register("https://", httpsrc.New())
	rtspOpener := &rtsp.Opener{Config: rtsp.Config{
		CommandTimeout:      cfg.RTSPCommandTimeout,
		ReceiveSelectBudget: cfg.RTSPReceiveSelectBudget,
		ReconnectLimit:      cfg.RTSPReconnectLimit,
		RedirectLimit:       cfg.RTSPRedirectLimit,
	}}
	reg.RegisterRTSPSniffer(handler.IsSDPURL, rtspOpener)
	reg.Register("rtsp://", rtspOpener)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := pipe.Open(ctx, reg, uri, handler.AccessRead)
	if err != nil {
		logrus.WithError(err).Fatal("open failed")
	}
	defer c.Close()

	if err := c.Initialize(ctx, pipe.Options{
		MinBytes:            cfg.CacheMinBytes,
		MaxBytes:            cfg.CacheMaxBytes,
		SpareBytes:          cfg.SpareBytes,
		HighMarkFraction:    cfg.HighMarkFraction,
		ReadTriggerFraction: cfg.ReadTriggerFraction,
	}); err != nil {
		logrus.WithError(err).Fatal("initialize failed")
	}

	if *seekSeconds >= 0 {
		if _, err := c.Seek(ctx, int64(*seekSeconds*1e7), handler.OriginTime); err != nil {
			logrus.WithError(err).Fatal("seek failed")
		}
	}

	buf := make([]byte, 64<<10)
	for {
		n, err := c.Read(ctx, buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err == handler.ErrEOS || err == io.EOF {
			return
		}
		if err != nil {
			logrus.WithError(err).Fatal("read failed")
		}
	}
}
