// Command vidbot-record captures the wire records of a pub/sub channel into
// a replay file, one record per line. The output feeds the runtime's
// --input-replay mode.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"vidbot/internal/logging"
	"vidbot/internal/packet"
	"vidbot/internal/pubsub"
	"vidbot/pkg/streams"
)

func main() {
	os.Exit(run())
}

func run() int {
	channel := flag.String("channel", "", "channel to record")
	output := flag.String("output", "recording.jsonl", "replay file to write")
	endpoint := flag.String("endpoint", "", "pub/sub endpoint")
	limit := flag.Int("limit", 0, "stop after this many records (0 = until signalled)")
	flag.Parse()

	if *channel == "" {
		fmt.Fprintln(os.Stderr, "--channel is required")
		flag.Usage()
		return 2
	}

	if err := logging.Initialize(logging.DefaultConfig()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg := pubsub.DefaultConfig()
	cfg.Name = "vidbot-record"
	if *endpoint != "" {
		cfg.URLs = []string{*endpoint}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	client, err := pubsub.Connect(ctx, cfg, slog.Default(), func(err error) {
		slog.Error("fatal pubsub error", "error", err)
		os.Exit(1)
	})
	if err != nil {
		slog.Error("connecting", "error", err)
		return 1
	}
	defer client.Close()

	f, err := os.Create(*output)
	if err != nil {
		slog.Error("creating output", "error", err)
		return 1
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	reactor := streams.NewLoop()
	p := streams.Pipe(
		pubsub.Source(client, reactor, *channel),
		streams.SignalBreaker[packet.NetworkPacket](reactor,
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT))
	if *limit > 0 {
		p = streams.Pipe(p, streams.Take[packet.NetworkPacket](*limit))
	}

	var count int
	start := time.Now()
	done := streams.Process(p, func(np packet.NetworkPacket) {
		raw, merr := packet.MarshalRecord(np)
		if merr != nil {
			slog.Warn("skipping record", "error", merr)
			return
		}
		fmt.Fprintf(w, "%s\n", raw)
		count++
		if count%1000 == 0 {
			slog.Info("recording", "records", count, "channel", *channel)
		}
	})

	slog.Info("recording channel", "channel", *channel, "output", *output)
	reactor.Run()

	if _, err := done.Wait(); err != nil {
		slog.Error("recording failed", "error", err)
		return 1
	}
	slog.Info("recording complete",
		"records", count, "elapsed", time.Since(start).Round(time.Millisecond).String())
	return 0
}
