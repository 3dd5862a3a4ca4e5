package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"liveboard/internal/keepalive"
)

func main() {
	var (
		url          = flag.String("url", "http://localhost:5000", "board base url (http or https)")
		bots         = flag.Int("bots", 3, "synthetic realtime sessions to hold open")
		interval     = flag.Duration("interval", 5*time.Minute, "view probe and self-ping interval")
		pingInterval = flag.Duration("ping", 30*time.Second, "realtime ping interval")
		reconnect    = flag.Duration("reconnect", 5*time.Second, "delay before a dropped session reconnects")
		once         = flag.Bool("once", false, "send one probe and self-ping, then exit")
	)
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		zl = zap.NewExample()
	}
	logger := zl.Sugar().Named("bot")
	defer func() { _ = logger.Sync() }()

	r, err := keepalive.New(keepalive.Options{
		BaseURL:      *url,
		Bots:         *bots,
		Interval:     *interval,
		PingInterval: *pingInterval,
		Reconnect:    *reconnect,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalw("keep-alive", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		r.Tick(ctx)
		s := r.Stats()
		logger.Infow("tick done", "probes", s.Probes, "self_pings", s.SelfPings, "failures", s.Failures)
		if s.Failures > 0 {
			os.Exit(1)
		}
		return
	}
	r.Run(ctx)
	s := r.Stats()
	logger.Infow("stopped", "dials", s.Dials, "pings", s.Pings, "probes", s.Probes, "failures", s.Failures)
}
