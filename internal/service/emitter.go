package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: progress notifications to whoever drives the service
// ─────────────────────────────────────────────────────────────

// Event names.
const (
	EventExtractionStarted  = "extraction:started"
	EventExtractionFinished = "extraction:finished"
	EventExtractionFailed   = "extraction:failed"
	EventExportWritten      = "export:written"
)

// EventEmitter receives service events. The CLI logs them; the MCP server
// forwards them as log notifications.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes events to a zap logger.
type LogEmitter struct {
	Log *zap.Logger
}

func (l LogEmitter) Emit(_ context.Context, event string, data any) {
	if l.Log == nil {
		return
	}
	l.Log.Info(event, zap.Any("data", data))
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Names returns the recorded event names in order.
func (m *MockEmitter) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.Events))
	for i, e := range m.Events {
		names[i] = e.Event
	}
	return names
}
