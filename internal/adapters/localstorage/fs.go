package localstorage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"baysebatch/internal/core/ports"
)

// Ensure LineFile implements ports.LineSink at compile time.
var _ ports.LineSink = (*LineFile)(nil)

// ReadLines returns every line of the file at path with surrounding whitespace trimmed.
// Blank lines are kept so callers can report line numbers.
func ReadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	// No line length cap: an oversized line reaches the caller, which rejects that line alone.
	var lines []string
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
}

// LineFile writes newline-terminated records to a local file.
type LineFile struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenAppend opens path for appending, creating it if needed. Existing records are kept.
func OpenAppend(path string) (*LineFile, error) {
	return open(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

// Create opens path for writing and truncates it.
func Create(path string) (*LineFile, error) {
	return open(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

func open(path string, flag int) (*LineFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &LineFile{path: path, file: file}, nil
}

// WriteLine writes line plus a trailing newline in a single write.
// Embedded newlines are rejected so one record always occupies one line.
func (f *LineFile) WriteLine(line []byte) error {
	line = bytes.TrimRight(line, "\r\n")
	if bytes.ContainsAny(line, "\r\n") {
		return fmt.Errorf("record for %s spans multiple lines", f.path)
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return fmt.Errorf("write to closed file %s", f.path)
	}
	if _, err := f.file.Write(buf); err != nil {
		return fmt.Errorf("failed to write to %s: %w", f.path, err)
	}
	return nil
}

// Close flushes and closes the file. Calling it twice is a no-op.
func (f *LineFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", f.path, err)
	}
	return nil
}

// Path returns the file location.
func (f *LineFile) Path() string { return f.path }
