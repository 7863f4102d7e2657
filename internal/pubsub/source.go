package pubsub

import (
	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

// sourceState is the externally driven producer behind a channel source.
type sourceState struct {
	sub     Subscription
	release func()
}

// Source streams the network packets published on a channel. Records arrive
// on the client's delivery goroutine and hop onto the reactor, so the
// pipeline stays single-threaded. Demand is not enforced: the channel is a
// live feed and the pipeline's worker stage is responsible for shedding
// load.
func Source(c *Client, r streams.Reactor, channel string) streams.Publisher[packet.NetworkPacket] {
	logger := c.logger.With("channel", channel)
	return streams.Async(
		func(obs streams.Observer[packet.NetworkPacket]) *sourceState {
			st := &sourceState{release: r.Hold()}
			sub, err := c.Subscribe(channel, func(data []byte) {
				r.Post(func() {
					p, perr := packet.ParseRecord(data)
					if perr != nil {
						logger.Warn("skipping malformed record", "error", perr)
						return
					}
					obs.OnNext(p)
				})
			})
			if err != nil {
				obs.OnError(err)
				return st
			}
			st.sub = sub
			logger.Info("subscribed to channel")
			return st
		},
		func(st *sourceState) {
			if st.sub != nil {
				if err := st.sub.Unsubscribe(); err != nil {
					logger.Warn("unsubscribe", "error", err)
				}
			}
			st.release()
		})
}

// ControlSource streams the decoded control records addressed to a bot. The
// control channel is shared, so records are delivered as raw maps and the
// bot decides which apply to it.
func ControlSource(c *Client, r streams.Reactor, channel string) streams.Publisher[map[string]any] {
	return rawSource(c, r, channel+ControlSuffix)
}

func rawSource(c *Client, r streams.Reactor, channel string) streams.Publisher[map[string]any] {
	logger := c.logger.With("channel", channel)
	return streams.Async(
		func(obs streams.Observer[map[string]any]) *sourceState {
			st := &sourceState{release: r.Hold()}
			sub, err := c.Subscribe(channel, func(data []byte) {
				r.Post(func() {
					rec, perr := decodeRecord(data)
					if perr != nil {
						logger.Warn("skipping malformed control record", "error", perr)
						return
					}
					obs.OnNext(rec)
				})
			})
			if err != nil {
				obs.OnError(err)
				return st
			}
			st.sub = sub
			return st
		},
		func(st *sourceState) {
			if st.sub != nil {
				if err := st.sub.Unsubscribe(); err != nil {
					logger.Warn("unsubscribe", "error", err)
				}
			}
			st.release()
		})
}
