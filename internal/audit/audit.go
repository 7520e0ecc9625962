// Package audit implements the structured append-only audit trail that,
// alongside logs, is the primary record of every significant step (spec §9).
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one structured audit entry: {timestamp, level, component or
// agent_type, correlation_id, message, ...kv} as spec §9 describes.
type Record struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Level         string         `json:"level"`
	Component     string         `json:"component"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Message       string         `json:"message"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Log is an append-only, day-partitioned JSONL audit log, persisted with
// the teacher's tmp-file-then-rename idiom (internal/ai/memory/incidents.go)
// adapted to append rather than overwrite a snapshot.
type Log struct {
	mu      sync.Mutex
	dataDir string

	subMu       sync.RWMutex
	subscribers map[chan Record]struct{}
}

func New(dataDir string) *Log {
	return &Log{dataDir: dataDir, subscribers: make(map[chan Record]struct{})}
}

func (l *Log) pathFor(day time.Time) string {
	return filepath.Join(l.dataDir, "audit-"+day.Format("2006-01-02")+".jsonl")
}

// Append writes r to today's partition and fans it out to any live
// subscribers (the websocket tail stream).
func (l *Log) Append(r Record) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(r)
	if err != nil {
		return err
	}

	l.mu.Lock()
	err = l.appendLineLocked(r.Timestamp, line)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.publish(r)
	return nil
}

func (l *Log) appendLineLocked(ts time.Time, line []byte) error {
	if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
		return err
	}
	path := l.pathFor(ts)

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	combined := append(existing, line...)
	combined = append(combined, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, combined, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Subscribe returns a channel receiving every future Append'd Record, and an
// unsubscribe function. Used by the /audit/stream websocket handler.
func (l *Log) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, 32)
	l.subMu.Lock()
	l.subscribers[ch] = struct{}{}
	l.subMu.Unlock()

	return ch, func() {
		l.subMu.Lock()
		delete(l.subscribers, ch)
		close(ch)
		l.subMu.Unlock()
	}
}

func (l *Log) publish(r Record) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for ch := range l.subscribers {
		select {
		case ch <- r:
		default: // slow subscriber drops the record rather than blocking the writer
		}
	}
}
