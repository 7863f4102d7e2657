package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

// Sink publishes an encoded packet stream to a channel. It requests one
// packet at a time and posts each publish onto the reactor, keeping the
// network hop off the pipeline's emission path. Metadata goes to the
// metadata subchannel; frames are chunked into wire records on the frames
// channel. The sink owns itself: it detaches on completion.
type Sink struct {
	client  *Client
	reactor streams.Reactor
	onFatal func(error)

	framesChannel   string
	metadataChannel string

	sub    streams.Subscription
	frames uint64
}

// NewSink returns a subscriber publishing to the given channel. onFatal is
// invoked for publish errors; the runtime's policy is to abort so the
// orchestrator restarts the process.
func NewSink(c *Client, r streams.Reactor, channel string, onFatal func(error)) *Sink {
	return &Sink{
		client:          c,
		reactor:         r,
		onFatal:         onFatal,
		framesChannel:   channel,
		metadataChannel: channel + MetadataSuffix,
	}
}

func (s *Sink) OnSubscribe(sub streams.Subscription) {
	s.sub = sub
	sub.Request(1)
}

func (s *Sink) OnNext(p packet.EncodedPacket) {
	switch v := p.(type) {
	case packet.EncodedMetadata:
		s.post(s.metadataChannel, v.ToNetwork())
	case packet.EncodedFrame:
		for _, nf := range v.ToNetwork(time.Now()) {
			s.post(s.framesChannel, nf)
		}
		s.frames++
		if s.frames%100 == 0 {
			s.client.logger.Info("published frames",
				"count", s.frames, "channel", s.framesChannel)
		}
	}
	s.sub.Request(1)
}

func (s *Sink) post(channel string, p packet.NetworkPacket) {
	data, err := packet.MarshalRecord(p)
	if err != nil {
		s.fail(err)
		return
	}
	s.reactor.Post(func() {
		if err := s.client.Publish(channel, data); err != nil {
			s.fail(err)
		}
	})
}

func (s *Sink) OnError(err error) {
	s.fail(err)
}

func (s *Sink) OnComplete() {
	s.sub = nil
}

func (s *Sink) fail(err error) {
	if s.onFatal != nil {
		s.onFatal(err)
	}
}

var _ streams.Subscriber[packet.EncodedPacket] = (*Sink)(nil)

// RecordSink publishes structured records (analysis, debug, control output)
// to one channel. It implements the observer side only: the runtime drives
// it directly as bot output arrives.
type RecordSink struct {
	client  *Client
	reactor streams.Reactor
	channel string
	onFatal func(error)
}

// NewRecordSink returns a record sink for the given channel.
func NewRecordSink(c *Client, r streams.Reactor, channel string, onFatal func(error)) *RecordSink {
	return &RecordSink{client: c, reactor: r, channel: channel, onFatal: onFatal}
}

func (s *RecordSink) OnNext(rec map[string]any) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.client.logger.Warn("dropping unencodable record", "error", err)
		return
	}
	s.reactor.Post(func() {
		if err := s.client.Publish(s.channel, data); err != nil && s.onFatal != nil {
			s.onFatal(err)
		}
	})
}

func (s *RecordSink) OnError(err error) {
	if s.onFatal != nil {
		s.onFatal(err)
	}
}

func (s *RecordSink) OnComplete() {}

var _ streams.Observer[map[string]any] = (*RecordSink)(nil)

// PublishShutdownNote announces a graceful stop on the control channel so
// peers learn the bot id is going away. Kubernetes sends SIGTERM and then
// SIGKILL after its grace period; the note must beat the second signal.
func PublishShutdownNote(c *Client, channel, botID string) error {
	data, err := json.Marshal(map[string]any{
		"bot_id": botID,
		"note":   "shutting down",
	})
	if err != nil {
		return err
	}
	return c.Publish(channel+ControlSuffix, data)
}

// decodeRecord parses a structured record from its wire form.
func decodeRecord(data []byte) (map[string]any, error) {
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}
	return rec, nil
}
