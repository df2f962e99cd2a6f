// Package events implements the append-only, day-rotated audit log.
package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/msageha/des/internal/clock"
	"github.com/msageha/des/internal/logging"
)

const (
	// TimestampLayout is ISO-8601 UTC with millisecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
	// Log file prefix and extension; the UTC date sits between them.
	LogFilePrefix    = "audit-"
	LogFileExtension = ".log"

	keyEvent     = "event"
	keyTimestamp = "timestamp"
	keyEventID   = "event_id"
)

// Event types written by DES components.
const (
	SubagentStopPassed       = "SUBAGENT_STOP_PASSED"
	SubagentStopFailed       = "SUBAGENT_STOP_FAILED"
	TaskInvocationStarted    = "TASK_INVOCATION_STARTED"
	TaskInvocationRejected   = "TASK_INVOCATION_REJECTED"
	ExtensionApproved        = "EXTENSION_APPROVED"
	ExtensionDenied          = "EXTENSION_DENIED"
	RecoveryGuidanceRecorded = "RECOVERY_GUIDANCE_RECORDED"
)

// Event is one audit record.
type Event struct {
	Type      string
	Timestamp time.Time
	ID        string
	Data      map[string]any
}

// Field returns a data value as text, or "".
func (e *Event) Field(key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// BestEffort carries the outcome of an audit write. Callers may inspect Err
// but must not fail their own operation on it.
type BestEffort struct {
	Err error
}

func (b BestEffort) OK() bool { return b.Err == nil }

// Recorder is the write side used by validators and engines.
type Recorder interface {
	LogEvent(Event) BestEffort
}

// AuditLogger appends events to <dir>/audit-YYYY-MM-DD.log.
type AuditLogger struct {
	mu     sync.Mutex
	fs     afero.Fs
	dir    string
	clock  clock.Clock
	logger *zap.Logger
	newID  func() string

	file    afero.File
	fileDay string
}

// NewAuditLogger creates a logger for dir. Nothing is created on disk until
// the first event is written.
func NewAuditLogger(fs afero.Fs, dir string, clk clock.Clock, logger *zap.Logger) *AuditLogger {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &AuditLogger{
		fs:     fs,
		dir:    dir,
		clock:  clock.OrSystem(clk),
		logger: logging.OrNop(logger),
		newID:  uuid.NewString,
	}
}

func (l *AuditLogger) Dir() string { return l.dir }

// Log is shorthand for LogEvent with a fresh timestamp.
func (l *AuditLogger) Log(eventType string, data map[string]any) BestEffort {
	return l.LogEvent(Event{Type: eventType, Data: data})
}

// LogEvent appends one line. Failures are reported at warn level and
// returned, never raised.
func (l *AuditLogger) LogEvent(ev Event) BestEffort {
	if err := l.write(ev); err != nil {
		l.logger.Warn("audit write failed",
			zap.String("event", ev.Type),
			zap.String("dir", l.dir),
			zap.Error(err))
		return BestEffort{Err: err}
	}
	return BestEffort{}
}

func (l *AuditLogger) write(ev Event) error {
	if ev.Type == "" {
		return errors.New("event type is required")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.clock.Now()
	}
	if ev.ID == "" {
		ev.ID = l.newID()
	}

	data, err := Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	day := ev.Timestamp.UTC().Format("2006-01-02")
	if l.file == nil || l.fileDay != day {
		if err := l.openDay(day); err != nil {
			return err
		}
	}

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	// Sync to disk for durability
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

// openDay switches to the day file, closing the previous one. Caller holds mu.
func (l *AuditLogger) openDay(day string) error {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if err := l.fs.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	path := filepath.Join(l.dir, LogFilePrefix+day+LogFileExtension)
	f, err := l.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	l.file = f
	l.fileDay = day
	return nil
}

// Marshal renders ev as one compact JSON object with sorted keys. Data keys
// that collide with the envelope are ignored.
func Marshal(ev Event) ([]byte, error) {
	fields := make(map[string]any, len(ev.Data)+3)
	for k, v := range ev.Data {
		fields[k] = v
	}
	fields[keyEvent] = ev.Type
	fields[keyTimestamp] = ev.Timestamp.UTC().Format(TimestampLayout)
	if ev.ID != "" {
		fields[keyEventID] = ev.ID
	} else {
		delete(fields, keyEventID)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return data, nil
}

// Unmarshal parses one log line.
func Unmarshal(line []byte) (*Event, error) {
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, err
	}
	typ, _ := fields[keyEvent].(string)
	if typ == "" {
		return nil, errors.New("missing event type")
	}
	rawTS, _ := fields[keyTimestamp].(string)
	ts, err := parseTimestamp(rawTS)
	if err != nil {
		return nil, err
	}
	id, _ := fields[keyEventID].(string)
	delete(fields, keyEvent)
	delete(fields, keyTimestamp)
	delete(fields, keyEventID)
	return &Event{Type: typ, Timestamp: ts, ID: id, Data: fields}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// Files lists the audit log files in lexicographic (date) order.
func (l *AuditLogger) Files() ([]string, error) {
	entries, err := afero.ReadDir(l.fs, l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list audit directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, LogFilePrefix) || !strings.HasSuffix(name, LogFileExtension) {
			continue
		}
		files = append(files, filepath.Join(l.dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// ReadEntries returns the well-formed entries of one day's file in file order.
func (l *AuditLogger) ReadEntries(day time.Time) ([]Event, error) {
	path := filepath.Join(l.dir, LogFilePrefix+day.UTC().Format("2006-01-02")+LogFileExtension)
	return l.readFile(path)
}

func (l *AuditLogger) readFile(path string) ([]Event, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	var out []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := Unmarshal(line)
		if err != nil {
			// Skip malformed entries
			continue
		}
		out = append(out, *ev)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan audit log: %w", err)
	}
	return out, nil
}

// ReadLastEntry returns the matching entry with the greatest timestamp across
// all day files. Ties go to the entry read later.
func (l *AuditLogger) ReadLastEntry(eventType string) (*Event, bool) {
	return l.FindLast(func(ev *Event) bool { return ev.Type == eventType })
}

// FindLast is ReadLastEntry with an arbitrary predicate.
func (l *AuditLogger) FindLast(match func(*Event) bool) (*Event, bool) {
	files, err := l.Files()
	if err != nil {
		l.logger.Warn("audit read failed", zap.String("dir", l.dir), zap.Error(err))
		return nil, false
	}
	var last *Event
	for _, f := range files {
		entries, err := l.readFile(f)
		if err != nil {
			l.logger.Warn("audit read failed", zap.String("file", f), zap.Error(err))
		}
		for i := range entries {
			ev := &entries[i]
			if !match(ev) {
				continue
			}
			if last == nil || !ev.Timestamp.Before(last.Timestamp) {
				last = ev
			}
		}
	}
	return last, last != nil
}

// Close closes the current day file.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	l.fileDay = ""
	return err
}

// Discard is a Recorder that drops every event.
type Discard struct{}

func (Discard) LogEvent(Event) BestEffort { return BestEffort{} }
