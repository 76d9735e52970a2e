package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSink persists a run on disk: step output under <dir>/<run-id>/<job>/
// and the final report as <dir>/<run-id>.json, published atomically.
type FileSink struct {
	Dir    string
	Logger *slog.Logger

	mu    sync.Mutex
	files map[string]*os.File
	err   error
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{Dir: dir, Logger: logger, files: make(map[string]*os.File)}
}

func (s *FileSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch ev.Type {
	case EventStepOutput:
		err = s.appendLine(ev)
	case EventStepFinished:
		err = s.closeStep(ev)
	case EventPipelineFinished:
		if ev.PipelineResult != nil {
			err = s.writeReport(*ev.PipelineResult)
		}
		s.closeAll()
	}
	if err != nil {
		s.Logger.Warn("report file write failed", "run_id", ev.RunID, "error", err)
		if s.err == nil {
			s.err = err
		}
	}
}

// Err returns the first write failure, if any.
func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ReportPath returns where the JSON report for runID is written.
func (s *FileSink) ReportPath(runID string) string {
	return filepath.Join(s.Dir, runID+".json")
}

// LogPath returns where output for one step of runID is written.
func (s *FileSink) LogPath(runID, job, step string) string {
	return filepath.Join(s.Dir, runID, sanitize(job), sanitize(step)+".log")
}

func (s *FileSink) appendLine(ev Event) error {
	path := s.LogPath(ev.RunID, ev.Job, ev.Step)
	f, ok := s.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open step log: %w", err)
		}
		s.files[path] = f
	}
	line := ev.Line
	if ev.Stream == Stderr {
		line = "[stderr] " + line
	}
	_, err := fmt.Fprintln(f, line)
	return err
}

func (s *FileSink) closeStep(ev Event) error {
	path := s.LogPath(ev.RunID, ev.Job, ev.Step)
	f, ok := s.files[path]
	if !ok {
		return nil
	}
	delete(s.files, path)
	return f.Close()
}

func (s *FileSink) closeAll() {
	for path, f := range s.files {
		_ = f.Close()
		delete(s.files, path)
	}
}

func (s *FileSink) writeReport(result PipelineResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	return writeFileAtomic(s.ReportPath(result.RunID), append(data, '\n'))
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place so readers never observe a partial report.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '/':
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), ".")
	if clean == "" {
		return "step"
	}
	return clean
}
