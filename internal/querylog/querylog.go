// Package querylog appends search audit records to an NDJSON file. Records
// flow through a bounded channel to a single writer goroutine, so logging
// never blocks the search path; when the buffer is full, records drop.
package querylog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one audited search.
type Record struct {
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"user_id"`
	Query     string          `json:"query"`
	Response  json.RawMessage `json:"response"`
}

// Logger writes audit records in the background.
type Logger struct {
	ch     chan Record
	file   *os.File
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// DefaultBufferSize bounds pending records before drops start.
const DefaultBufferSize = 256

// Open creates or appends to the NDJSON file at path and starts the writer.
func Open(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create query log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open query log: %w", err)
	}

	l := &Logger{
		ch:     make(chan Record, DefaultBufferSize),
		file:   file,
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.consume()
	return l, nil
}

// Log queues one record. Non-blocking; drops when the buffer is full.
func (l *Logger) Log(userID, query string, response any) {
	raw, err := json.Marshal(response)
	if err != nil {
		l.logger.Warn("querylog_marshal_failed", slog.String("error", err.Error()))
		return
	}

	rec := Record{
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Query:     query,
		Response:  raw,
	}
	// The send stays under the lock so Close cannot close the channel
	// between the closed check and the enqueue.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.dropped++
		return
	}
	select {
	case l.ch <- rec:
	default:
		l.dropped++
	}
}

// Dropped returns how many records were discarded due to backpressure.
func (l *Logger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Logger) consume() {
	defer close(l.done)
	enc := json.NewEncoder(l.file)
	for rec := range l.ch {
		if err := enc.Encode(rec); err != nil {
			l.logger.Warn("querylog_write_failed", slog.String("error", err.Error()))
		}
	}
}

// Close drains pending records and closes the file.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.ch)
		l.mu.Unlock()
	})
	<-l.done
	return l.file.Close()
}
