package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

const logbookTimeFormat = "2006-01-02 15:04:05"

// FileLogbook implements domain.Logbook: an append-only text log with one
// line per state change, "<timestamp>: <action> <target>". The file handle
// is acquired per write, flushed and closed immediately, so concurrent
// invocations append whole lines via O_APPEND rather than interleaving.
type FileLogbook struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileLogbook creates a logbook writing to the given path.
func NewFileLogbook(path string) *FileLogbook {
	return &FileLogbook{path: path, now: time.Now}
}

// NewFileLogbookWithClock creates a logbook with a fixed clock (for testing).
func NewFileLogbookWithClock(path string, now func() time.Time) *FileLogbook {
	return &FileLogbook{path: path, now: now}
}

// Append writes one log line.
func (l *FileLogbook) Append(action, target string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	_, werr := fmt.Fprintf(f, "%s: %s %s\n", l.now().Format(logbookTimeFormat), action, target)
	serr := f.Sync()
	cerr := f.Close()

	if werr != nil {
		return werr
	}
	if serr != nil {
		return serr
	}
	return cerr
}

// Ensure FileLogbook implements domain.Logbook.
var _ domain.Logbook = (*FileLogbook)(nil)
