package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

func writeReplayFile(t *testing.T, packets []packet.NetworkPacket) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, p := range packets {
		raw, err := packet.MarshalRecord(p)
		require.NoError(t, err)
		_, err = fmt.Fprintf(f, "%s\n", raw)
		require.NoError(t, err)
	}
	return path
}

func samplePackets() []packet.NetworkPacket {
	meta := packet.EncodedMetadata{CodecName: "h264", CodecData: []byte{1, 2, 3}}
	f1 := packet.EncodedFrame{Data: []byte("frame-one"), ID: packet.FrameID{I1: 0, I2: 8}}
	f2 := packet.EncodedFrame{Data: []byte("frame-two"), ID: packet.FrameID{I1: 9, I2: 17}}

	out := []packet.NetworkPacket{meta.ToNetwork()}
	for _, nf := range f1.ToNetwork(time.UnixMilli(100)) {
		out = append(out, nf)
	}
	for _, nf := range f2.ToNetwork(time.UnixMilli(140)) {
		out = append(out, nf)
	}
	return out
}

func TestReplayBatchReadsAll(t *testing.T) {
	path := writeReplayFile(t, samplePackets())
	p := Replay(nil, path, Options{Batch: true})

	var got []packet.NetworkPacket
	_, err := streams.Process(p, func(np packet.NetworkPacket) { got = append(got, np) }).Wait()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.IsType(t, packet.NetworkMetadata{}, got[0])
	assert.IsType(t, packet.NetworkFrame{}, got[1])
}

func TestReplayMissingFile(t *testing.T) {
	p := Replay(nil, "/nonexistent/replay.jsonl", Options{Batch: true})
	_, err := streams.Process(p, func(packet.NetworkPacket) {}).Wait()
	assert.ErrorIs(t, err, packet.ErrStreamInitialization)
}

func TestReplayLoop(t *testing.T) {
	path := writeReplayFile(t, samplePackets())
	p := streams.Pipe(
		Replay(nil, path, Options{Batch: true, Loop: true}),
		streams.Take[packet.NetworkPacket](8))

	var got []packet.NetworkPacket
	_, err := streams.Process(p, func(np packet.NetworkPacket) { got = append(got, np) }).Wait()
	require.NoError(t, err)
	// The 3-record file wraps around under loop mode.
	assert.Len(t, got, 8)
}

func TestReplayLivePacing(t *testing.T) {
	l := streams.NewLoop()
	path := writeReplayFile(t, samplePackets())
	p := Replay(l, path, Options{FPS: 100})

	var stamps []time.Time
	done := streams.Process(p, func(packet.NetworkPacket) { stamps = append(stamps, time.Now()) })
	l.Run()

	_, err := done.Wait()
	require.NoError(t, err)
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 5*time.Millisecond)
	}
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0o644))

	var got []string
	_, err := streams.Process(ReadLines(path), func(s string) { got = append(got, s) }).Wait()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, got)
}

func TestOptionsPeriodDefaults(t *testing.T) {
	assert.Equal(t, time.Second/25, Options{}.period())
	assert.Equal(t, time.Second/100, Options{FPS: 100}.period())
}

// fakeDemuxer serves frames from memory and counts lifecycle calls.
type fakeDemuxer struct {
	meta    packet.EncodedMetadata
	frames  []packet.EncodedFrame
	idx     int
	inits   int
	closed  int
	rewinds int
	initErr error
	readErr error
}

func (d *fakeDemuxer) Init() (packet.EncodedMetadata, error) {
	d.inits++
	if d.initErr != nil {
		return packet.EncodedMetadata{}, d.initErr
	}
	return d.meta, nil
}

func (d *fakeDemuxer) ReadFrame() (packet.EncodedFrame, error) {
	if d.readErr != nil {
		return packet.EncodedFrame{}, d.readErr
	}
	if d.idx >= len(d.frames) {
		return packet.EncodedFrame{}, io.EOF
	}
	f := d.frames[d.idx]
	d.idx++
	return f, nil
}

func (d *fakeDemuxer) Close() error {
	d.closed++
	return nil
}

func (d *fakeDemuxer) Rewind() error {
	d.rewinds++
	d.idx = 0
	return nil
}

func TestFromDemuxerMetadataFirst(t *testing.T) {
	d := &fakeDemuxer{
		meta: packet.EncodedMetadata{CodecName: "h264"},
		frames: []packet.EncodedFrame{
			{Data: []byte("a"), ID: packet.FrameID{I1: 0, I2: 1}},
			{Data: []byte("b"), ID: packet.FrameID{I1: 2, I2: 3}},
		},
	}
	p := FromDemuxer(nil, d, Options{Batch: true})

	var got []packet.EncodedPacket
	_, err := streams.Process(p, func(e packet.EncodedPacket) { got = append(got, e) }).Wait()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.IsType(t, packet.EncodedMetadata{}, got[0])
	assert.Equal(t, 1, d.inits)
	assert.Equal(t, 1, d.closed, "demuxer resources released at stream end")
}

func TestFromDemuxerLoopRewinds(t *testing.T) {
	d := &fakeDemuxer{
		meta:   packet.EncodedMetadata{CodecName: "h264"},
		frames: []packet.EncodedFrame{{Data: []byte("a"), ID: packet.FrameID{I1: 0, I2: 1}}},
	}
	p := streams.Pipe(
		FromDemuxer(nil, d, Options{Batch: true, Loop: true}),
		streams.Take[packet.EncodedPacket](4))

	var got []packet.EncodedPacket
	_, err := streams.Process(p, func(e packet.EncodedPacket) { got = append(got, e) }).Wait()
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.GreaterOrEqual(t, d.rewinds, 1)
	assert.Equal(t, 1, d.closed)
}

func TestFromDemuxerInitError(t *testing.T) {
	d := &fakeDemuxer{initErr: errors.New("codec unavailable")}
	p := FromDemuxer(nil, d, Options{Batch: true})
	_, err := streams.Process(p, func(packet.EncodedPacket) {}).Wait()
	assert.ErrorIs(t, err, packet.ErrStreamInitialization)
	assert.Equal(t, 1, d.closed)
}

func TestFromDemuxerReadError(t *testing.T) {
	d := &fakeDemuxer{meta: packet.EncodedMetadata{CodecName: "h264"}}
	p := FromDemuxer(nil, d, Options{Batch: true})

	var got []packet.EncodedPacket
	d.readErr = errors.New("truncated input")
	_, err := streams.Process(p, func(e packet.EncodedPacket) { got = append(got, e) }).Wait()
	assert.ErrorIs(t, err, packet.ErrFrameGeneration)
	assert.Len(t, got, 1, "metadata precedes the failure")
}
