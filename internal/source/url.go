package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

// URLOptions tune the remote endpoint source.
type URLOptions struct {
	// HandshakeTimeout bounds each dial attempt.
	HandshakeTimeout time.Duration
	// MaxRetryInterval caps the reconnect backoff. Zero disables
	// reconnection: the first connection loss ends the stream.
	MaxRetryInterval time.Duration
}

// DefaultURLOptions returns the settings used by the runtime.
func DefaultURLOptions() URLOptions {
	return URLOptions{
		HandshakeTimeout: 10 * time.Second,
		MaxRetryInterval: 30 * time.Second,
	}
}

// urlState owns the reader goroutine behind a remote source.
type urlState struct {
	cancel  context.CancelFunc
	release func()
	done    chan struct{}
}

// URL streams wire records from a remote websocket endpoint, one record per
// message. The reader runs on its own goroutine and hops every record onto
// the reactor. Connection losses reconnect with exponential backoff; a
// failed first connect terminates the stream with an initialization error.
func URL(r streams.Reactor, url string, opts URLOptions) streams.Publisher[packet.NetworkPacket] {
	logger := slog.Default().With("component", "url-source", "url", url)
	return streams.Async(
		func(obs streams.Observer[packet.NetworkPacket]) *urlState {
			ctx, cancel := context.WithCancel(context.Background())
			st := &urlState{
				cancel:  cancel,
				release: r.Hold(),
				done:    make(chan struct{}),
			}
			go runReader(ctx, r, url, opts, obs, logger, st.done)
			return st
		},
		func(st *urlState) {
			st.cancel()
			<-st.done
			st.release()
		})
}

func runReader(ctx context.Context, r streams.Reactor, url string, opts URLOptions,
	obs streams.Observer[packet.NetworkPacket], logger *slog.Logger, done chan struct{}) {
	defer close(done)

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = opts.MaxRetryInterval
	policy.MaxElapsedTime = 0
	first := true

	for {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if first {
				r.Post(func() {
					obs.OnError(fmt.Errorf("%w: dialing %s: %v",
						packet.ErrStreamInitialization, url, err))
				})
				return
			}
			logger.Warn("dial failed", "error", err)
		} else {
			first = false
			logger.Info("connected to remote source")
			policy.Reset()
			readUntilClosed(ctx, r, conn, obs, logger)
			if ctx.Err() != nil {
				return
			}
		}

		if opts.MaxRetryInterval <= 0 {
			r.Post(obs.OnComplete)
			return
		}
		select {
		case <-time.After(policy.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

// readUntilClosed pumps records until the connection drops or ctx ends.
func readUntilClosed(ctx context.Context, r streams.Reactor, conn *websocket.Conn,
	obs streams.Observer[packet.NetworkPacket], logger *slog.Logger) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("connection lost", "error", err)
			}
			return
		}
		p, err := packet.ParseRecord(data)
		if err != nil {
			logger.Warn("skipping malformed record", "error", err)
			continue
		}
		r.Post(func() { obs.OnNext(p) })
	}
}
