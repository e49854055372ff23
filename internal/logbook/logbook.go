// Package logbook keeps the campus activity log under ~/.campus/logs. The
// terminal UI shows its tail; the portal client and the sandbox write request
// lines through Printf.
package logbook

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DefaultMaxBytes is the size at which the log is rotated to <path>.1.
const DefaultMaxBytes int64 = 1 << 20

const redacted = "[redacted]"

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+\S+`)
	jwtPattern    = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
)

// Logbook is an append-only, levelled text log. Credentials never reach the
// file: bearer headers and JWTs are masked before writing.
type Logbook struct {
	path     string
	now      func() time.Time
	maxBytes int64
	mu       sync.Mutex
}

// Option customizes a Logbook.
type Option func(*Logbook)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logbook) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMaxBytes sets the rotation threshold. Zero or less disables rotation.
func WithMaxBytes(n int64) Option {
	return func(l *Logbook) {
		l.maxBytes = n
	}
}

// New creates a logbook that writes to path, creating its directory.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: ensure log dir: %w", err)
	}
	l := &Logbook{path: path, now: time.Now, maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one entry. Multi-line messages are folded onto one line so
// Tail always returns whole entries.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	line := fmt.Sprintf("%s %-5s %s\n",
		l.now().UTC().Format(time.RFC3339),
		string(level),
		Redact(flatten(message)),
	)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotateLocked(int64(len(line)))
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// rotateLocked moves the current file to <path>.1 when the next write would
// push it past maxBytes. One generation is kept.
func (l *Logbook) rotateLocked(incoming int64) {
	if l.maxBytes <= 0 {
		return
	}
	info, err := os.Stat(l.path)
	if err != nil || info.Size() == 0 || info.Size()+incoming <= l.maxBytes {
		return
	}
	_ = os.Rename(l.path, l.path+".1")
}

// Tail returns up to maxLines of the most recent entries and the number of
// entries in the current file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return []string{fmt.Sprintf("(log unreadable: %v)", err)}, 0
		}
		return nil, 0
	}
	defer file.Close()

	ring := make([]string, maxLines)
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		ring[total%maxLines] = scanner.Text()
		total++
	}
	if total == 0 {
		return nil, 0
	}
	n := min(total, maxLines)
	lines := make([]string, 0, n)
	for i := total - n; i < total; i++ {
		lines = append(lines, ring[i%maxLines])
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// Printf records an informational entry, so a Logbook satisfies the Logger
// interfaces of the portal client, the sandbox and the batch submitter.
func (l *Logbook) Printf(format string, args ...any) {
	l.Info(format, args...)
}

// Redact masks bearer credentials and JWT-shaped strings in s.
func Redact(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer "+redacted)
	return jwtPattern.ReplaceAllString(s, redacted)
}

func flatten(message string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(message), func(r rune) bool {
		return r == '\n' || r == '\r'
	})
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return strings.Join(fields, " | ")
}
