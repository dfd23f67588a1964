package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileSink appends one JSON line per record to a log file. The file is held
// open; if it is rotated away or deleted underneath us, the next append
// reopens it.
type FileSink struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (creating if necessary) the audit log for appending.
func NewFileSink(path string, logger zerolog.Logger) (*FileSink, error) {
	sink := &FileSink{path: path, logger: logger}
	if err := sink.open(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *FileSink) open() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.file = file
	return nil
}

// Append implements Sink.
func (s *FileSink) Append(record Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(line); err == nil {
		return nil
	}

	// The file may have been rotated away; reopen once and retry.
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := s.open(); err != nil {
		return err
	}
	s.logger.Warn().Str("path", s.path).Msg("audit log reopened")
	return s.writeLocked(line)
}

func (s *FileSink) writeLocked(line []byte) error {
	if s.file == nil {
		return errors.New("audit log not open")
	}
	// detect rotation: our open handle keeps writing into a deleted inode
	if _, err := os.Stat(s.path); err != nil && errors.Is(err, os.ErrNotExist) {
		return err
	}
	_, err := s.file.Write(line)
	return err
}

// Close implements Sink.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
