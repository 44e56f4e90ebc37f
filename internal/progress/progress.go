// Package progress implements the crash-test side channel: a small file
// holding the engine's durable_index as decimal ASCII, republished on every
// successful sync, so an external observer process can watch durability
// progress without the writer knowing it's being watched.
package progress

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kvwal/kvwal/internal/datasync"
)

// FileName is the well-known progress file name, always created in the
// current working directory.
const FileName = "durable_progress.txt"

// Sink publishes a monotonically increasing durable_index to FileName.
type Sink struct {
	file *os.File
}

// Open creates the progress file if needed and opens it for writing. Existing
// contents are not truncated here; the first Publish replaces them.
func Open() (*Sink, error) {
	f, err := os.OpenFile(FileName, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("progress: failed to open %s: %w", FileName, err)
	}
	return &Sink{file: f}, nil
}

// Publish rewrites the progress file with durableIndex: truncate to zero,
// seek to the start, write the decimal value with no trailing newline, then
// data-sync so a polling reader sees the update immediately.
func (s *Sink) Publish(durableIndex int) error {
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("progress: truncate: %w", err)
	}
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("progress: seek: %w", err)
	}
	if _, err := s.file.WriteString(strconv.Itoa(durableIndex)); err != nil {
		return fmt.Errorf("progress: write: %w", err)
	}
	if err := datasync.File(s.file); err != nil {
		return fmt.Errorf("progress: sync: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (s *Sink) Close() error {
	return s.file.Close()
}

// Read parses the current contents of FileName. It tolerates the file not
// existing yet, being transiently empty (the publisher is between truncate
// and write), and unparseable content — all three are reported as ok=false
// rather than an error, meaning simply "no progress yet."
func Read() (value int, ok bool) {
	data, err := os.ReadFile(FileName)
	if err != nil {
		return 0, false
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}
