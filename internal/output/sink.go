package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// Format selects how a WriterSink renders reports.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a configured format name to a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// Sink receives every published report.
type Sink interface {
	Emit(Report) error
}

// WriterSink prints reports to an io.Writer in a fixed format.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

func NewWriterSink(w io.Writer, format Format) *WriterSink {
	if w == nil {
		w = io.Discard
	}
	if format == "" {
		format = FormatText
	}
	return &WriterSink{w: w, format: format}
}

func (s *WriterSink) Emit(report Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.format {
	case FormatJSON:
		return PrintJSONReport(s.w, report)
	case FormatYAML:
		return PrintYAMLReport(s.w, report)
	default:
		PrintReport(s.w, report)
		return nil
	}
}

// FileSink appends each report as one JSON line. Appends are guarded by an
// advisory lock on "<path>.lock" so several processes can share a file.
type FileSink struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

func NewFileSink(path string) (*FileSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file sink: empty path")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	return &FileSink{path: path, lock: flock.New(path + ".lock")}, nil
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Emit(report Report) error {
	line, err := json.Marshal(report.Document())
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.ID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	defer func() { _ = s.lock.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", s.path, err)
	}
	return f.Close()
}

// Close releases the lock file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}
