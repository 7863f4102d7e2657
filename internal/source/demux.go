package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

// Demuxer is the boundary to container and device inputs whose decoding
// lives outside this runtime. An implementation owns its native resources;
// the source binds their release to the end of the subscription.
type Demuxer interface {
	// Init opens the input and returns the decoder parameters. A failure
	// here is a stream initialization error.
	Init() (packet.EncodedMetadata, error)
	// ReadFrame returns the next encoded frame. io.EOF signals end of
	// input; any other error is a frame generation error.
	ReadFrame() (packet.EncodedFrame, error)
	// Close releases the demuxer's native resources.
	Close() error
}

// Rewinder is implemented by demuxers that can restart from the beginning,
// enabling loop mode.
type Rewinder interface {
	Rewind() error
}

// demuxState drives a Demuxer as a pull-mode generator: metadata first,
// then frames, looping when asked and supported.
type demuxState struct {
	d      Demuxer
	loop   bool
	logger *slog.Logger

	initialized  bool
	metadata     packet.EncodedMetadata
	metadataSent bool
}

func (st *demuxState) generate(n int, obs streams.Observer[packet.EncodedPacket]) {
	if !st.initialized {
		meta, err := st.d.Init()
		if err != nil {
			obs.OnError(fmt.Errorf("%w: %v", packet.ErrStreamInitialization, err))
			return
		}
		st.metadata = meta
		st.initialized = true
	}

	for emitted := 0; emitted < n; {
		if !st.metadataSent {
			obs.OnNext(st.metadata)
			st.metadataSent = true
			emitted++
			continue
		}

		frame, err := st.d.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if st.loop {
					if rw, ok := st.d.(Rewinder); ok {
						if rerr := rw.Rewind(); rerr != nil {
							obs.OnError(fmt.Errorf("%w: %v", packet.ErrFrameGeneration, rerr))
							return
						}
						st.logger.Debug("restarting input")
						continue
					}
				}
				obs.OnComplete()
				return
			}
			obs.OnError(fmt.Errorf("%w: %v", packet.ErrFrameGeneration, err))
			return
		}
		obs.OnNext(frame)
		emitted++
	}
}

func (st *demuxState) Close() error {
	return st.d.Close()
}

// FromDemuxer adapts a demuxer into an encoded packet publisher with the
// standard source behavior: metadata-first emission, optional looping, and
// live-mode pacing through the reactor.
func FromDemuxer(r streams.Reactor, d Demuxer, opts Options) streams.Publisher[packet.EncodedPacket] {
	logger := slog.Default().With("component", "demux-source")
	p := streams.Stateful(
		func() *demuxState {
			return &demuxState{d: d, loop: opts.Loop, logger: logger}
		},
		func(st *demuxState, n int, obs streams.Observer[packet.EncodedPacket]) {
			st.generate(n, obs)
		})
	if opts.Batch {
		return p
	}
	return streams.Pipe(p, streams.Interval[packet.EncodedPacket](r, opts.period()))
}
