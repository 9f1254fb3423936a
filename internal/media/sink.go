package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Sink persists completed media.
type Sink interface {
	// WriteFile creates or truncates name and writes data.
	WriteFile(name string, data []byte) error
	// Append adds data to the end of name, creating it if needed.
	Append(name string, data []byte) error
	Close() error
}

// FileSink writes into a directory. Append targets stay open until Close.
type FileSink struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileSink creates dir if needed and returns a sink rooted there.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create output dir: %w", err)
	}
	return &FileSink{dir: dir, files: make(map[string]*os.File)}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string { return s.dir }

func (s *FileSink) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// WriteFile implements Sink.
func (s *FileSink) WriteFile(name string, data []byte) error {
	if err := os.WriteFile(s.path(name), data, 0o644); err != nil {
		return fmt.Errorf("media: write %s: %w", name, err)
	}
	return nil
}

// Append implements Sink.
func (s *FileSink) Append(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[name]
	if !ok {
		var err error
		f, err = os.OpenFile(s.path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("media: open %s: %w", name, err)
		}
		s.files[name] = f
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("media: append %s: %w", name, err)
	}
	return nil
}

// Close closes every open append target.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("media: close %s: %w", name, err))
		}
		delete(s.files, name)
	}
	return errors.Join(errs...)
}

// MemorySink keeps everything in memory. Useful for tests and for callers
// that forward media elsewhere.
type MemorySink struct {
	mu     sync.Mutex
	files  map[string][]byte
	writes map[string]int
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		files:  make(map[string][]byte),
		writes: make(map[string]int),
	}
}

// WriteFile implements Sink.
func (s *MemorySink) WriteFile(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = append([]byte(nil), data...)
	s.writes[name]++
	return nil
}

// Append implements Sink.
func (s *MemorySink) Append(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = append(s.files[name], data...)
	s.writes[name]++
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }

// File returns a copy of the named file's contents.
func (s *MemorySink) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[name]
	return append([]byte(nil), b...), ok
}

// Writes returns how many WriteFile or Append calls targeted name.
func (s *MemorySink) Writes(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[name]
}

// Names returns the sorted names of all files written.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
