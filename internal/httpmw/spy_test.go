package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/headerguard/internal/log"
)

type spyEntry struct {
	level string
	msg   string
	err   error
	kv    map[string]any
}

type spySink struct {
	mu      sync.Mutex
	entries []spyEntry
}

// spyLogger records every entry along with the fields accumulated via With.
type spyLogger struct {
	sink   *spySink
	fields []any
}

func newSpyLogger() *spyLogger { return &spyLogger{sink: &spySink{}} }

func (s *spyLogger) With(kv ...any) log.Logger {
	f := append(append([]any{}, s.fields...), kv...)
	return &spyLogger{sink: s.sink, fields: f}
}

func (s *spyLogger) record(level string, err error, msg string, kv []any) {
	all := append(append([]any{}, s.fields...), kv...)
	m := make(map[string]any, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			m[k] = all[i+1]
		}
	}
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.sink.entries = append(s.sink.entries, spyEntry{level: level, msg: msg, err: err, kv: m})
}

func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) { s.record("debug", nil, msg, kv) }
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any)  { s.record("info", nil, msg, kv) }
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any)  { s.record("warn", nil, msg, kv) }
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.record("error", err, msg, kv)
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) all() []spyEntry {
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	return append([]spyEntry(nil), s.sink.entries...)
}
