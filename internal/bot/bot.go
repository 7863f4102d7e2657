// Package bot defines the boundary between the runtime and user-supplied
// analysis code. A bot is registered through an explicit Builder handed to
// main; there is no process-wide registry.
package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

// Mode selects how the runtime drives the bot.
type Mode int

const (
	// Live paces input in real time and sheds load through the worker
	// stage.
	Live Mode = iota
	// Batch consumes input as fast as demand allows.
	Batch
)

func (m Mode) String() string {
	if m == Batch {
		return "batch"
	}
	return "live"
}

// MessageKind routes a bot output message to its channel.
type MessageKind int

const (
	// Analysis messages carry detection results.
	Analysis MessageKind = iota
	// Debug messages carry diagnostics for the operator.
	Debug
	// Control messages address other bots or the runtime.
	Control
)

// Message is one structured record emitted by a bot.
type Message struct {
	Kind   MessageKind
	Record map[string]any
}

// Input is the tagged union flowing into a bot: a batch of image packets or
// one control record. Exactly one field is set.
type Input struct {
	Frames  []packet.ImagePacket
	Control map[string]any
}

// Config is the bot's startup configuration record.
type Config map[string]any

// Context carries per-instance state into bot callbacks.
type Context struct {
	ID     string
	Mode   Mode
	Logger *slog.Logger

	frames uint64
}

// Frames reports how many frame batches this instance has processed.
func (c *Context) Frames() uint64 { return c.frames }

// Descriptor is what user code supplies: the pixel format its frames should
// arrive in and the callbacks the runtime invokes.
type Descriptor struct {
	// PixelFormat the bot wants frames decoded into.
	PixelFormat packet.PixelFormat
	// Init runs once before the stream starts. Optional.
	Init func(ctx *Context, cfg Config) error
	// Process handles one input and returns outgoing messages. Required.
	Process func(ctx *Context, in Input) []Message
}

// Builder assembles a runnable bot instance. It replaces the hidden static
// registry of older runtimes: main constructs a builder, sets what it knows,
// and hands the instance to the runtime.
type Builder struct {
	desc Descriptor
	id   string
	mode Mode
	cfg  Config
}

// NewBuilder starts a builder for the descriptor.
func NewBuilder(desc Descriptor) *Builder {
	return &Builder{desc: desc}
}

// WithID sets the bot id; an empty id gets a generated one.
func (b *Builder) WithID(id string) *Builder {
	b.id = id
	return b
}

// WithMode selects live or batch execution.
func (b *Builder) WithMode(mode Mode) *Builder {
	b.mode = mode
	return b
}

// WithConfig attaches the bot configuration record.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// Build validates the descriptor, runs Init, and returns the instance.
func (b *Builder) Build() (*Instance, error) {
	if b.desc.Process == nil {
		return nil, errors.New("bot: descriptor has no Process callback")
	}
	id := b.id
	if id == "" {
		id = uuid.New().String()
	}
	ctx := &Context{
		ID:     id,
		Mode:   b.mode,
		Logger: slog.Default().With("component", "bot", "bot_id", id),
	}
	if b.desc.Init != nil {
		if err := b.desc.Init(ctx, b.cfg); err != nil {
			return nil, fmt.Errorf("bot: init: %w", err)
		}
	}
	ctx.Logger.Info("bot instance ready", "mode", b.mode.String())
	return &Instance{desc: b.desc, ctx: ctx}, nil
}

// Instance is a built bot ready to join a pipeline. Frame and control
// inputs may reach the bot from different subscriptions, so Process calls
// are serialized.
type Instance struct {
	desc Descriptor
	ctx  *Context
	mu   sync.Mutex
}

// ID returns the instance's bot id.
func (i *Instance) ID() string { return i.ctx.ID }

// PixelFormat returns the frame format the bot expects.
func (i *Instance) PixelFormat() packet.PixelFormat { return i.desc.PixelFormat }

// Run lifts the bot into a stream operator from inputs to outgoing
// messages. Each input expands into zero or more messages, preserving
// order.
func (i *Instance) Run() streams.Op[Input, Message] {
	return streams.FlatMap(func(in Input) streams.Publisher[Message] {
		i.mu.Lock()
		if len(in.Frames) > 0 {
			i.ctx.frames++
		}
		out := i.desc.Process(i.ctx, in)
		i.mu.Unlock()
		return streams.Of(out...)
	})
}
