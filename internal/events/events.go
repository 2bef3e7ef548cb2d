// Package events keeps the append-only JSONL event log. Producers emit from
// the hot path without blocking; a single consumer goroutine serializes
// writes to the daily log file. The log is advisory: coordinator correctness
// never depends on it, so a full buffer drops events instead of stalling an
// assignment.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level orders event severities for filtering.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a config string onto a Level. Unknown strings mean info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Event is one record in the log.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Type    string         `json:"type"`
	TaskID  string         `json:"task_id,omitempty"`
	AgentID string         `json:"agent_id,omitempty"`
	Message string         `json:"message,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Log is the producer/consumer event sink.
type Log struct {
	ch     chan Event
	logger *log.Logger
	file   *os.File
	enc    *json.Encoder
	done   chan struct{}

	mu    sync.Mutex
	min   Level
	drops int
}

// New opens (or creates) the event log under dir and starts the consumer.
// An empty dir disables file output; events still pass the filter so tests
// can observe drop accounting.
func New(dir string, min Level, logger *log.Logger) (*Log, error) {
	l := &Log{
		ch:     make(chan Event, 256),
		logger: logger,
		min:    min,
		done:   make(chan struct{}),
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("event log dir: %w", err)
		}
		name := filepath.Join(dir, "events-"+time.Now().UTC().Format("20060102")+".jsonl")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("event log open: %w", err)
		}
		l.file = f
		l.enc = json.NewEncoder(f)
	}
	go l.consume()
	return l, nil
}

// SetLevel changes the filter at runtime (config reload).
func (l *Log) SetLevel(min Level) {
	l.mu.Lock()
	l.min = min
	l.mu.Unlock()
}

// Emit queues an event. Never blocks: over-capacity events are counted and
// dropped.
func (l *Log) Emit(level Level, typ string, ev Event) {
	l.mu.Lock()
	min := l.min
	l.mu.Unlock()
	if level < min {
		return
	}
	ev.Time = time.Now().UTC()
	ev.Level = level.String()
	ev.Type = typ
	select {
	case l.ch <- ev:
	default:
		l.mu.Lock()
		l.drops++
		l.mu.Unlock()
	}
}

// Info is the common-case emit.
func (l *Log) Info(typ, taskID, agentID, message string) {
	l.Emit(LevelInfo, typ, Event{TaskID: taskID, AgentID: agentID, Message: message})
}

// Warn records a recoverable anomaly.
func (l *Log) Warn(typ, taskID, message string) {
	l.Emit(LevelWarn, typ, Event{TaskID: taskID, Message: message})
}

// Error records a failure that needs operator attention.
func (l *Log) Error(typ, message string, fields map[string]any) {
	l.Emit(LevelError, typ, Event{Message: message, Fields: fields})
}

func (l *Log) consume() {
	defer close(l.done)
	for ev := range l.ch {
		if l.enc == nil {
			continue
		}
		if err := l.enc.Encode(ev); err != nil {
			l.logger.Printf("event log write: %v", err)
		}
	}
}

// Dropped reports how many events were shed under backpressure.
func (l *Log) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}

// Close drains the queue and closes the file.
func (l *Log) Close() error {
	close(l.ch)
	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Flush waits for queued events to reach the file. Test helper.
func (l *Log) Flush(ctx context.Context) error {
	for {
		if len(l.ch) == 0 {
			if l.file != nil {
				return l.file.Sync()
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}
