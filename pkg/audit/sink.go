package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/store"
	"github.com/netwarden/netwarden/pkg/util"
)

// Sink records audit events. Writes are best-effort but must not be
// silently dropped: implementations return the error and callers log it
// and surface it in result summaries.
type Sink interface {
	Record(ctx context.Context, event *model.AuditEvent) error
}

// StoreSink appends events to the persistence layer.
type StoreSink struct {
	store store.Store
}

// NewStoreSink creates a store-backed sink.
func NewStoreSink(s store.Store) *StoreSink {
	return &StoreSink{store: s}
}

// Record appends the event.
func (s *StoreSink) Record(ctx context.Context, event *model.AuditEvent) error {
	return s.store.AppendAudit(ctx, event)
}

// FileSink logs audit events to a JSON-lines file.
type FileSink struct {
	path    string
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileSink creates a file-based audit sink.
func NewFileSink(path string) (*FileSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	return &FileSink{
		path:    path,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Record writes one event as a JSON line.
func (s *FileSink) Record(ctx context.Context, event *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoder.Encode(event)
}

// Close closes the log file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Query reads back events matching the filter from the file.
func (s *FileSink) Query(filter store.AuditFilter) ([]*model.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*model.AuditEvent{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []*model.AuditEvent
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		var event model.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			util.Warnf("audit: skipping malformed log entry at line %d: %v", lineNum, err)
			continue
		}
		if matchesFilter(&event, filter) {
			events = append(events, &event)
		}
	}
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}
	return events, scanner.Err()
}

func matchesFilter(event *model.AuditEvent, filter store.AuditFilter) bool {
	if filter.DeviceID != "" && event.DeviceID != filter.DeviceID {
		return false
	}
	if filter.UserSub != "" && event.UserSub != filter.UserSub {
		return false
	}
	if filter.Action != "" && event.Action != filter.Action {
		return false
	}
	if filter.PlanID != "" && event.PlanID != filter.PlanID {
		return false
	}
	if filter.Result != "" && event.Result != filter.Result {
		return false
	}
	if !filter.StartTime.IsZero() && event.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && event.Timestamp.After(filter.EndTime) {
		return false
	}
	return true
}

// Multi fans out events to several sinks and reports the first error.
type Multi []Sink

// Record records on every sink.
func (m Multi) Record(ctx context.Context, event *model.AuditEvent) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Record logs an event to the sink, logging (never dropping silently)
// any failure. Returns the error for callers that surface it.
func Record(ctx context.Context, sink Sink, event *model.AuditEvent) error {
	if sink == nil {
		return nil
	}
	if err := sink.Record(ctx, event); err != nil {
		util.WithField("action", event.Action).Errorf("audit write failed: %v", err)
		return err
	}
	return nil
}
