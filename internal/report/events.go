package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventRun       EventType = "run"
	EventBatch     EventType = "batch"
	EventCandidate EventType = "candidate"
	EventSkip      EventType = "skip"
	EventHero      EventType = "hero"
	EventError     EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in a crawl run
type Event struct {
	Timestamp time.Time         `json:"ts"`
	RunID     string            `json:"run_id,omitempty"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	Batch     string            `json:"batch,omitempty"`
	BggID     int               `json:"bgg_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Slug      string            `json:"slug,omitempty"`
	SystemID  int64             `json:"system_id,omitempty"`
	Status    string            `json:"status,omitempty"`
	Created   bool              `json:"created,omitempty"`
	Rank      int               `json:"rank,omitempty"`
	Bytes     int64             `json:"bytes,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"` // in milliseconds
	Reason    string            `json:"reason,omitempty"`
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level.
// Every event it writes carries a fresh run id.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("crawl-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    uuid.NewString(),
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogCandidate logs the outcome of one processed candidate
func (l *EventLogger) LogCandidate(batch string, bggID int, name, slug string, systemID int64, status string, created bool, rank int, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	switch {
	case err != nil:
		level = LevelError
		errMsg = err.Error()
	case status == "partial":
		level = LevelWarning
	}

	return l.Log(&Event{
		Level:    level,
		Event:    EventCandidate,
		Batch:    batch,
		BggID:    bggID,
		Name:     name,
		Slug:     slug,
		SystemID: systemID,
		Status:   status,
		Created:  created,
		Rank:     rank,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogSkip logs a candidate dropped before it reached the catalogue
func (l *EventLogger) LogSkip(batch string, bggID int, name, reason string) error {
	return l.Log(&Event{
		Level:  LevelWarning,
		Event:  EventSkip,
		Batch:  batch,
		BggID:  bggID,
		Name:   name,
		Reason: reason,
	})
}

// LogHero logs a hero image upload
func (l *EventLogger) LogHero(systemID int64, sourceURL string, bytes int64) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventHero,
		SystemID: systemID,
		Bytes:    bytes,
		Extra: map[string]string{
			"source_url": sourceURL,
		},
	})
}

// LogBatch logs the counters of a finished batch
func (l *EventLogger) LogBatch(r *BatchResult) error {
	if r == nil {
		return nil
	}
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventBatch,
		Batch:    r.Label,
		Duration: r.Duration.Milliseconds(),
		Extra: map[string]string{
			"candidates": fmt.Sprintf("%d", r.Candidates),
			"detailed":   fmt.Sprintf("%d", r.Detailed),
			"processed":  fmt.Sprintf("%d", r.Processed),
			"success":    fmt.Sprintf("%d", r.Success),
			"partial":    fmt.Sprintf("%d", r.Partial),
			"error":      fmt.Sprintf("%d", r.Errors),
			"created":    fmt.Sprintf("%d", r.Created),
			"skipped":    fmt.Sprintf("%d", r.Skipped),
		},
	})
}

// LogRun logs the final summary of a run
func (l *EventLogger) LogRun(s *Summary) error {
	if s == nil {
		return nil
	}
	t := s.Totals()
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventRun,
		Duration: s.Duration().Milliseconds(),
		Bytes:    s.BytesUploaded,
		Reason:   s.Line(),
		Extra: map[string]string{
			"processed": fmt.Sprintf("%d", t.Processed),
			"batches":   fmt.Sprintf("%d", len(s.Batches)),
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(batch string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: EventError,
		Batch: batch,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the id stamped on every event of this logger
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
