// Package source provides the stream publishers that feed video pipelines:
// replay files, remote endpoints, and the demuxer boundary for encoded
// containers.
package source

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"vidbot/internal/packet"
	"vidbot/pkg/streams"
)

// DefaultFPS paces live-mode sources when the input carries no rate of its
// own.
const DefaultFPS = 25

// Options select source behavior shared by file-backed inputs.
type Options struct {
	// Loop restarts the input at EOF instead of completing.
	Loop bool
	// Batch disables pacing: consume as fast as downstream demand allows.
	Batch bool
	// FPS is the nominal live-mode rate; zero means DefaultFPS.
	FPS int
}

func (o Options) period() time.Duration {
	fps := o.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	return time.Second / time.Duration(fps)
}

// replayState reads wire records line by line from a recorded channel dump.
type replayState struct {
	filename string
	loop     bool
	logger   *slog.Logger

	file    *os.File
	scanner *bufio.Scanner
}

func (st *replayState) open() error {
	f, err := os.Open(st.filename)
	if err != nil {
		return fmt.Errorf("%w: %v", packet.ErrStreamInitialization, err)
	}
	st.file = f
	st.scanner = newRecordScanner(f)
	st.logger.Info("replay file open", "file", st.filename)
	return nil
}

func (st *replayState) rewind() error {
	if _, err := st.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewinding %s: %v", packet.ErrFrameGeneration, st.filename, err)
	}
	st.scanner = newRecordScanner(st.file)
	st.logger.Debug("restarting replay", "file", st.filename)
	return nil
}

func (st *replayState) generate(n int, obs streams.Observer[packet.NetworkPacket]) {
	if st.file == nil {
		if err := st.open(); err != nil {
			obs.OnError(err)
			return
		}
	}

	for emitted := 0; emitted < n; {
		if !st.scanner.Scan() {
			if err := st.scanner.Err(); err != nil {
				obs.OnError(fmt.Errorf("%w: reading %s: %v",
					packet.ErrFrameGeneration, st.filename, err))
				return
			}
			if st.loop {
				if err := st.rewind(); err != nil {
					obs.OnError(err)
					return
				}
				continue
			}
			st.logger.Debug("replay file exhausted", "file", st.filename)
			obs.OnComplete()
			return
		}

		line := st.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p, err := packet.ParseRecord(line)
		if err != nil {
			obs.OnError(fmt.Errorf("%w: %v", packet.ErrFrameGeneration, err))
			return
		}
		obs.OnNext(p)
		emitted++
	}
}

func (st *replayState) Close() error {
	if st.file == nil {
		return nil
	}
	err := st.file.Close()
	st.file = nil
	return err
}

// Replay streams the wire records recorded in a file, one JSON record per
// line. In live mode emission is paced to the nominal frame rate through the
// reactor; batch mode leaves the stream unpaced.
func Replay(r streams.Reactor, filename string, opts Options) streams.Publisher[packet.NetworkPacket] {
	logger := slog.Default().With("component", "replay-source", "file", filename)
	p := streams.Stateful(
		func() *replayState {
			return &replayState{filename: filename, loop: opts.Loop, logger: logger}
		},
		func(st *replayState, n int, obs streams.Observer[packet.NetworkPacket]) {
			st.generate(n, obs)
		})
	if opts.Batch {
		return p
	}
	return streams.Pipe(p, streams.Interval[packet.NetworkPacket](r, opts.period()))
}

// newRecordScanner builds a line scanner sized for chunked frame records.
func newRecordScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	// A full-size fragment plus JSON framing exceeds the default token cap.
	sc.Buffer(make([]byte, 0, 64*1024), 2*packet.MaxPayloadSize)
	return sc
}

// linesState backs ReadLines.
type linesState struct {
	filename string
	file     *os.File
	scanner  *bufio.Scanner
}

func (st *linesState) Close() error {
	if st.file == nil {
		return nil
	}
	err := st.file.Close()
	st.file = nil
	return err
}

// ReadLines streams a file line by line.
func ReadLines(filename string) streams.Publisher[string] {
	return streams.Stateful(
		func() *linesState { return &linesState{filename: filename} },
		func(st *linesState, n int, obs streams.Observer[string]) {
			if st.file == nil {
				f, err := os.Open(st.filename)
				if err != nil {
					obs.OnError(fmt.Errorf("%w: %v", packet.ErrStreamInitialization, err))
					return
				}
				st.file = f
				st.scanner = newRecordScanner(f)
			}
			for ; n > 0; n-- {
				if !st.scanner.Scan() {
					if err := st.scanner.Err(); err != nil {
						obs.OnError(fmt.Errorf("%w: %v", packet.ErrFrameGeneration, err))
						return
					}
					obs.OnComplete()
					return
				}
				obs.OnNext(st.scanner.Text())
			}
		})
}
