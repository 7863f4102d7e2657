package bot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

func TestBuildRequiresProcess(t *testing.T) {
	_, err := NewBuilder(Descriptor{}).Build()
	assert.Error(t, err)
}

func TestBuildGeneratesID(t *testing.T) {
	inst, err := NewBuilder(Descriptor{
		Process: func(*Context, Input) []Message { return nil },
	}).Build()
	require.NoError(t, err)
	assert.NotEmpty(t, inst.ID())
}

func TestBuildRunsInitWithConfig(t *testing.T) {
	var gotCfg Config
	inst, err := NewBuilder(Descriptor{
		Init: func(ctx *Context, cfg Config) error {
			gotCfg = cfg
			return nil
		},
		Process: func(*Context, Input) []Message { return nil },
	}).WithID("bot-1").WithConfig(Config{"threshold": 0.7}).Build()
	require.NoError(t, err)
	assert.Equal(t, "bot-1", inst.ID())
	assert.Equal(t, 0.7, gotCfg["threshold"])
}

func TestBuildInitFailure(t *testing.T) {
	_, err := NewBuilder(Descriptor{
		Init:    func(*Context, Config) error { return errors.New("bad config") },
		Process: func(*Context, Input) []Message { return nil },
	}).Build()
	assert.ErrorContains(t, err, "bad config")
}

func TestRunExpandsMessages(t *testing.T) {
	inst, err := NewBuilder(Descriptor{
		Process: func(ctx *Context, in Input) []Message {
			if in.Control != nil {
				return []Message{{Kind: Control, Record: map[string]any{"ack": true}}}
			}
			return []Message{
				{Kind: Analysis, Record: map[string]any{"frames": len(in.Frames)}},
				{Kind: Debug, Record: map[string]any{"note": "seen"}},
			}
		},
	}).Build()
	require.NoError(t, err)

	frame := packet.ImageFrame{ID: packet.FrameID{I1: 0, I2: 1}}
	src := streams.Of(
		Input{Frames: []packet.ImagePacket{frame}},
		Input{Control: map[string]any{"action": "ping"}},
	)

	var got []Message
	_, werr := streams.Process(streams.Pipe(src, inst.Run()), func(m Message) {
		got = append(got, m)
	}).Wait()
	require.NoError(t, werr)
	require.Len(t, got, 3)
	assert.Equal(t, Analysis, got[0].Kind)
	assert.Equal(t, Debug, got[1].Kind)
	assert.Equal(t, Control, got[2].Kind)
}

func TestContextCountsFrameBatches(t *testing.T) {
	var inst *Instance
	var err error
	inst, err = NewBuilder(Descriptor{
		Process: func(ctx *Context, in Input) []Message { return nil },
	}).Build()
	require.NoError(t, err)

	frame := packet.ImageFrame{}
	src := streams.Of(
		Input{Frames: []packet.ImagePacket{frame}},
		Input{Control: map[string]any{}},
		Input{Frames: []packet.ImagePacket{frame}},
	)
	_, werr := streams.Process(streams.Pipe(src, inst.Run()), func(Message) {}).Wait()
	require.NoError(t, werr)
	assert.EqualValues(t, 2, inst.ctx.Frames())
}
