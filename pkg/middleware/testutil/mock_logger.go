// Package testutil holds helpers shared by middleware tests.
package testutil

import (
	"context"
	"sync"

	"github.com/nimburion/mds/pkg/observability/logger"
)

// MockLogger captures log entries for assertions. Child loggers created by
// With or WithContext write into the same entry list.
type MockLogger struct {
	mu   sync.Mutex
	Logs []LogEntry
}

// LogEntry is one captured call.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]interface{}
}

var _ logger.Logger = (*MockLogger)(nil)

func (m *MockLogger) Debug(msg string, args ...any) { m.record("debug", msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.record("info", msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.record("warn", msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.record("error", msg, args) }

// With returns the same logger; bound fields are not tracked.
func (m *MockLogger) With(args ...any) logger.Logger {
	return m
}

// WithContext returns the same logger.
func (m *MockLogger) WithContext(ctx context.Context) logger.Logger {
	return m
}

// Find returns the entries logged with msg.
func (m *MockLogger) Find(msg string) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, e := range m.Logs {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockLogger) record(level, msg string, args []any) {
	fields := make(map[string]interface{}, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, LogEntry{Level: level, Msg: msg, Fields: fields})
}
