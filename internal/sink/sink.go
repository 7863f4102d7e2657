// Package sink provides local destinations for bot output records: files,
// writers, and the optional analysis store. Every sink consumes structured
// records and writes one record per line or document.
package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"vidbot/pkg/streams"
)

// RecordObserver is the shape shared by every record destination.
type RecordObserver = streams.Observer[map[string]any]

// Writer renders records onto an io.Writer, one JSON line each. It is the
// default analysis/debug destination when no channel or file is configured.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
	logger *slog.Logger
}

// NewWriter wraps an io.Writer. If w also implements io.Closer it is closed
// on terminal events.
func NewWriter(w io.Writer) *Writer {
	s := &Writer{w: bufio.NewWriter(w), logger: slog.Default().With("component", "sink")}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NewFile opens path for line-per-record output, truncating previous
// content.
func NewFile(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opening sink file: %w", err)
	}
	s := NewWriter(f)
	s.logger = s.logger.With("file", path)
	return s, nil
}

func (s *Writer) OnNext(rec map[string]any) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("dropping unencodable record", "error", err)
		return
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		s.logger.Error("sink write failed", "error", err)
	}
}

func (s *Writer) OnError(err error) {
	s.logger.Error("stream failed", "error", err)
	s.close()
}

func (s *Writer) OnComplete() {
	s.close()
}

// Close flushes buffered records; the runtime calls it on process exit for
// sinks that never saw a terminal event.
func (s *Writer) Close() error {
	s.close()
	return nil
}

func (s *Writer) close() {
	if err := s.w.Flush(); err != nil {
		s.logger.Error("sink flush failed", "error", err)
	}
	if s.closer != nil {
		_ = s.closer.Close()
		s.closer = nil
	}
}

var _ RecordObserver = (*Writer)(nil)
