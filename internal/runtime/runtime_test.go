package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidbot/internal/bot"
	"vidbot/internal/config"
	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

func writeReplay(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	meta := packet.EncodedMetadata{CodecName: "h264", CodecData: []byte{1}}
	raw, err := packet.MarshalRecord(meta.ToNetwork())
	require.NoError(t, err)
	fmt.Fprintf(f, "%s\n", raw)

	pos := int64(0)
	for i := 0; i < frames; i++ {
		ef := packet.EncodedFrame{
			Data: []byte(fmt.Sprintf("frame-%d", i)),
			ID:   packet.FrameID{I1: pos, I2: pos + 7},
		}
		pos += 8
		for _, nf := range ef.ToNetwork(time.UnixMilli(int64(i * 40))) {
			raw, err := packet.MarshalRecord(nf)
			require.NoError(t, err)
			fmt.Fprintf(f, "%s\n", raw)
		}
	}
	return path
}

func countingBot() (bot.Descriptor, *int) {
	frames := new(int)
	desc := bot.Descriptor{
		Process: func(ctx *bot.Context, in bot.Input) []bot.Message {
			if in.Control != nil {
				return nil
			}
			for _, p := range in.Frames {
				if _, ok := p.(packet.ImageFrame); ok {
					*frames++
				}
			}
			return []bot.Message{{
				Kind:   bot.Analysis,
				Record: map[string]any{"frames": *frames},
			}}
		},
	}
	return desc, frames
}

func TestBatchReplayPipeline(t *testing.T) {
	replay := writeReplay(t, 5)
	analysisPath := filepath.Join(t.TempDir(), "analysis.jsonl")

	desc, frames := countingBot()
	inst, err := bot.NewBuilder(desc).WithID("t-bot").WithMode(bot.Batch).Build()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Bot.InputReplay = replay
	cfg.Bot.Batch = true
	cfg.Bot.AnalysisFile = analysisPath
	require.NoError(t, cfg.Validate())

	env, err := NewEnvironment(inst, cfg, EnvOptions{})
	require.NoError(t, err)
	require.NoError(t, env.Run())

	assert.Equal(t, 5, *frames)

	data, err := os.ReadFile(analysisPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// One record per input: metadata plus five frames.
	assert.Len(t, lines, 6)

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.EqualValues(t, 5, last["frames"])
}

func TestAnalysisFilterGatesRecords(t *testing.T) {
	replay := writeReplay(t, 4)
	analysisPath := filepath.Join(t.TempDir(), "analysis.jsonl")

	desc, _ := countingBot()
	inst, err := bot.NewBuilder(desc).WithMode(bot.Batch).Build()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Bot.InputReplay = replay
	cfg.Bot.Batch = true
	cfg.Bot.AnalysisFile = analysisPath
	cfg.Bot.AnalysisFilter = "msg.frames >= 3"

	env, err := NewEnvironment(inst, cfg, EnvOptions{})
	require.NoError(t, err)
	require.NoError(t, env.Run())

	data, err := os.ReadFile(analysisPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2, "only frames 3 and 4 pass the filter")
}

func TestBadFilterFailsBeforeSubscribing(t *testing.T) {
	desc, _ := countingBot()
	inst, err := bot.NewBuilder(desc).Build()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Bot.InputReplay = "whatever.jsonl"
	cfg.Bot.AnalysisFilter = "msg.frames >"

	_, err = NewEnvironment(inst, cfg, EnvOptions{})
	assert.Error(t, err)
}

func TestMissingReplayFileFailsRun(t *testing.T) {
	desc, _ := countingBot()
	inst, err := bot.NewBuilder(desc).WithMode(bot.Batch).Build()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Bot.InputReplay = "/nonexistent/replay.jsonl"
	cfg.Bot.Batch = true
	cfg.Bot.AnalysisFile = filepath.Join(t.TempDir(), "a.jsonl")

	env, err := NewEnvironment(inst, cfg, EnvOptions{})
	require.NoError(t, err)
	err = env.Run()
	assert.ErrorIs(t, err, packet.ErrStreamInitialization)
}

func TestLiveReplayPipelineThroughWorker(t *testing.T) {
	replay := writeReplay(t, 3)
	analysisPath := filepath.Join(t.TempDir(), "analysis.jsonl")

	desc, frames := countingBot()
	inst, err := bot.NewBuilder(desc).WithMode(bot.Live).Build()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Bot.InputReplay = replay
	cfg.Bot.FPS = 200
	cfg.Bot.AnalysisFile = analysisPath

	env, err := NewEnvironment(inst, cfg, EnvOptions{})
	require.NoError(t, err)
	require.NoError(t, env.Run())

	// Live mode paces one packet per 5ms; an attentive bot sees them all.
	assert.Equal(t, 3, *frames)
}

func TestPassthroughDecoder(t *testing.T) {
	src := streams.Of[packet.EncodedPacket](
		packet.EncodedMetadata{CodecName: "h264"},
		packet.EncodedFrame{Data: []byte("abc"), ID: packet.FrameID{I1: 0, I2: 2}},
	)
	var got []packet.ImagePacket
	_, err := streams.Process(streams.Pipe(src, PassthroughDecoder()), func(p packet.ImagePacket) {
		got = append(got, p)
	}).Wait()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.IsType(t, packet.ImageMetadata{}, got[0])
	frame := got[1].(packet.ImageFrame)
	assert.Equal(t, []byte("abc"), frame.PlaneData[0])
	assert.EqualValues(t, 3, frame.PlaneStride[0])
}

func TestLoadBotConfig(t *testing.T) {
	cfg, err := loadBotConfig(`{"threshold": 0.5}`, "")
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg["threshold"])

	_, err = loadBotConfig(`{}`, "also-a-file")
	assert.Error(t, err)

	cfg, err = loadBotConfig("", "")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestRunExitCodes(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(assert.AnError))
}

func TestMainFlagValidation(t *testing.T) {
	desc, _ := countingBot()
	code := run(desc, []string{"--input-replay", "a.jsonl", "--input-url", "wss://x"}, EnvOptions{})
	assert.NotEqual(t, 0, code)
}

func TestMainBatchEndToEnd(t *testing.T) {
	replay := writeReplay(t, 2)
	analysisPath := filepath.Join(t.TempDir(), "analysis.jsonl")

	desc, _ := countingBot()
	code := run(desc, []string{
		"--input-replay", replay,
		"--batch",
		"--analysis-file", analysisPath,
		"--id", "cli-bot",
	}, EnvOptions{})
	assert.Equal(t, 0, code)
	assert.FileExists(t, analysisPath)
}
