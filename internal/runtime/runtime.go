// Package runtime assembles and drives a bot pipeline: it picks the input
// source, decodes and paces packets, hands them to the bot together with
// control messages, and routes the bot's output to its destinations.
package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"vidbot/internal/bot"
	"vidbot/internal/config"
	"vidbot/internal/filter"
	"vidbot/internal/packet"
	"vidbot/internal/pubsub"
	"vidbot/internal/sink"
	"vidbot/internal/source"
	"vidbot/pkg/streams"
)

// progressLogPeriod is how many frame batches pass between progress lines.
const progressLogPeriod = 100

// Environment owns every collaborator of one bot process.
type Environment struct {
	cfg  *config.Config
	inst *bot.Instance

	reactor streams.Reactor
	decoder FrameDecoder
	client  *pubsub.Client

	analysisSink   sink.RecordObserver
	debugSink      sink.RecordObserver
	controlSink    sink.RecordObserver
	analysisFilter *filter.Program

	closers    []io.Closer
	dispatchMu sync.Mutex
	logger     *slog.Logger
}

// EnvOptions carry the collaborators an embedder may replace.
type EnvOptions struct {
	// Decoder converts encoded packets to the bot's frame format; nil
	// selects the passthrough decoder.
	Decoder FrameDecoder
}

// NewEnvironment wires sinks, the pub/sub client and the reactor for a
// validated configuration. Initialization failures leave no pipeline
// subscribed.
func NewEnvironment(inst *bot.Instance, cfg *config.Config, opts EnvOptions) (*Environment, error) {
	e := &Environment{
		cfg:     cfg,
		inst:    inst,
		reactor: streams.NewLoop(),
		decoder: opts.Decoder,
		logger:  slog.Default().With("component", "runtime", "bot_id", inst.ID()),
	}
	if e.decoder == nil {
		e.decoder = PassthroughDecoder()
	}

	if cfg.Bot.AnalysisFilter != "" {
		prog, err := filter.Compile(cfg.Bot.AnalysisFilter)
		if err != nil {
			return nil, err
		}
		e.analysisFilter = prog
	}

	if e.needsClient() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PubSub.ConnectTimeout)
		defer cancel()
		client, err := pubsub.Connect(ctx, cfg.PubSub, slog.Default(), e.fatal)
		if err != nil {
			return nil, err
		}
		e.client = client
	}

	if err := e.buildSinks(); err != nil {
		e.closeAll()
		return nil, err
	}
	return e, nil
}

// needsClient reports whether any flow touches the pub/sub service.
func (e *Environment) needsClient() bool {
	return e.cfg.Bot.Channel != ""
}

func (e *Environment) buildSinks() error {
	c := e.cfg.Bot

	switch {
	case c.AnalysisFile != "":
		s, err := sink.NewFile(c.AnalysisFile)
		if err != nil {
			return err
		}
		e.logger.Info("saving analysis output to file", "file", c.AnalysisFile)
		e.analysisSink = s
		e.closers = append(e.closers, s)
	case c.AnalysisStore:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := sink.NewStore(ctx, e.cfg.Store)
		if err != nil {
			return err
		}
		e.logger.Info("saving analysis output to store", "database", e.cfg.Store.Database)
		e.analysisSink = s
		e.closers = append(e.closers, s)
	case e.client != nil:
		e.analysisSink = pubsub.NewRecordSink(e.client, e.reactor,
			c.Channel+pubsub.AnalysisSuffix, e.fatal)
	default:
		e.analysisSink = sink.NewWriter(os.Stdout)
	}

	switch {
	case c.DebugFile != "":
		s, err := sink.NewFile(c.DebugFile)
		if err != nil {
			return err
		}
		e.logger.Info("saving debug output to file", "file", c.DebugFile)
		e.debugSink = s
		e.closers = append(e.closers, s)
	case e.client != nil:
		e.debugSink = pubsub.NewRecordSink(e.client, e.reactor,
			c.Channel+pubsub.DebugSuffix, e.fatal)
	default:
		e.debugSink = sink.NewWriter(os.Stderr)
	}

	if e.client != nil {
		e.controlSink = pubsub.NewRecordSink(e.client, e.reactor,
			c.Channel+pubsub.ControlSuffix, e.fatal)
	} else {
		e.controlSink = sink.NewWriter(os.Stdout)
	}
	return nil
}

// frameSource builds the configured input as a decoded image stream.
func (e *Environment) frameSource() streams.Publisher[packet.ImagePacket] {
	c := e.cfg.Bot
	opts := source.Options{Loop: c.Loop, Batch: c.Batch, FPS: c.FPS}

	var network streams.Publisher[packet.NetworkPacket]
	switch {
	case c.InputReplay != "":
		network = source.Replay(e.reactor, c.InputReplay, opts)
	case c.InputURL != "":
		network = source.URL(e.reactor, c.InputURL, source.DefaultURLOptions())
	default:
		network = pubsub.Source(e.client, e.reactor, c.Channel)
	}

	return streams.Pipe2(network, packet.DecodeNetworkStream(), e.decoder)
}

// controlSource streams control records addressed to this process.
func (e *Environment) controlSource() streams.Publisher[map[string]any] {
	if e.client == nil {
		return streams.Empty[map[string]any]()
	}
	return pubsub.ControlSource(e.client, e.reactor, e.cfg.Bot.Channel)
}

// Run drives the pipeline to its terminal event and returns the outcome.
//
// Frame and control inputs are two separate subscriptions. The stream
// engine's merge concatenates, so an endless control feed cannot share a
// pipeline with the frame stream. Control records arrive on the reactor; in
// live mode frames are delivered on the worker goroutine, so the bot
// instance and dispatch serialize the two with mutexes. The control
// subscription is cancelled when the frame stream terminates.
func (e *Environment) Run() error {
	c := e.cfg.Bot

	control := &pipelineDriver{onNext: e.dispatch}
	streams.Pipe2(e.controlSource(),
		streams.Map(func(rec map[string]any) bot.Input {
			return bot.Input{Control: rec}
		}),
		e.inst.Run()).Subscribe(control)

	frames := e.frameSource()
	if !c.Batch {
		frames = streams.Pipe(frames, streams.ThreadedWorker[packet.ImagePacket]("processing-worker"))
	}

	var processed int
	frames = streams.Pipe3(frames,
		streams.SignalBreaker[packet.ImagePacket](e.reactor,
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT),
		streams.Map(func(p packet.ImagePacket) packet.ImagePacket {
			processed++
			if processed%progressLogPeriod == 0 {
				e.logger.Info("processed frames", "count", processed)
			}
			return p
		}),
		streams.DoFinally[packet.ImagePacket](func() {
			e.reactor.Post(func() {
				control.cancel()
				e.stopClient()
			})
		}))

	outputs := streams.Pipe2(frames,
		streams.Map(func(p packet.ImagePacket) bot.Input {
			return bot.Input{Frames: []packet.ImagePacket{p}}
		}),
		e.inst.Run())
	done := streams.Process(outputs, e.dispatch)

	if !c.Batch {
		e.logger.Info("entering reactor loop")
		n := e.reactor.Run()
		e.logger.Info("reactor loop exited", "tasks", n)
	} else {
		// A batch replay pipeline drains synchronously during
		// subscription and leaves only queued publishes; channel and URL
		// inputs are driven by the reactor here.
		e.reactor.Run()
	}

	err := e.awaitOutcome(done)
	// The final delivery may have posted shutdown work after the loop
	// drained; run it before tearing the environment down.
	e.reactor.Run()
	e.closeAll()
	return err
}

// shutdownTimeout bounds how long a drained reactor may wait for the final
// delivery to land.
const shutdownTimeout = 30 * time.Second

// awaitOutcome waits for the pipeline's terminal event. The reactor loop
// has already drained, so a stream that still has not terminated lost its
// reactor-scheduled work.
func (e *Environment) awaitOutcome(done *streams.Deferred[struct{}]) error {
	outcome := make(chan error, 1)
	go func() {
		_, err := done.Wait()
		outcome <- err
	}()
	select {
	case err := <-outcome:
		return err
	case <-time.After(shutdownTimeout):
		return streams.ErrReactor
	}
}

// pipelineDriver consumes a secondary pipeline one value at a time and
// exposes cancellation to the owner.
type pipelineDriver struct {
	onNext func(bot.Message)
	sub    streams.Subscription
	done   bool
}

func (d *pipelineDriver) OnSubscribe(s streams.Subscription) {
	d.sub = s
	s.Request(1)
}

func (d *pipelineDriver) OnNext(m bot.Message) {
	if d.done {
		return
	}
	d.onNext(m)
	d.sub.Request(1)
}

func (d *pipelineDriver) OnError(err error) {
	d.done = true
	slog.Error("control pipeline failed", "error", err)
}

func (d *pipelineDriver) OnComplete() {
	d.done = true
}

func (d *pipelineDriver) cancel() {
	if d.done {
		return
	}
	d.done = true
	if d.sub != nil {
		d.sub.Cancel()
	}
}

// dispatch routes one bot output message to its sink. Frame and control
// outputs arrive from different goroutines in live mode.
func (e *Environment) dispatch(m bot.Message) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	switch m.Kind {
	case bot.Analysis:
		if e.analysisFilter != nil && !e.analysisFilter.Match(m.Record) {
			return
		}
		e.analysisSink.OnNext(m.Record)
	case bot.Control:
		e.controlSink.OnNext(m.Record)
	case bot.Debug:
		e.debugSink.OnNext(m.Record)
	}
}

// stopClient announces shutdown and stops the pub/sub client. It runs on
// the reactor so in-flight publishes keep their order.
func (e *Environment) stopClient() {
	if e.client == nil {
		return
	}
	if err := pubsub.PublishShutdownNote(e.client, e.cfg.Bot.Channel, e.inst.ID()); err != nil {
		e.logger.Error("publishing shutdown note", "error", err)
	}
	e.client.Close()
	e.client = nil
}

func (e *Environment) closeAll() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warn("closing sink", "error", err)
		}
	}
	e.closers = nil
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
}

// fatal implements the abort policy for pub/sub runtime errors: log and
// exit nonzero so the orchestrator restarts the process.
func (e *Environment) fatal(err error) {
	e.logger.Error("fatal pubsub error", "error", err)
	osExit(1)
}

// osExit allows tests to intercept the abort path.
var osExit = os.Exit

// exitCode maps a pipeline outcome onto the process exit status.
func exitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}
