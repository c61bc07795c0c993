package httpmw

import (
	"context"
	"sync"

	"github.com/Tener/ggp-aps/internal/log"
)

type spyEntry struct {
	level string
	msg   string
	err   error
	kv    []any
	with  []any
}

// spyLogger records Info and Error calls along with the fields added via
// With. Children share the parent's entry list.
type spyLogger struct {
	log.Logger
	mu      *sync.Mutex
	entries *[]spyEntry
	with    []any
}

func newSpyLogger() *spyLogger {
	return &spyLogger{Logger: log.Nop(), mu: &sync.Mutex{}, entries: &[]spyEntry{}}
}

func (s *spyLogger) With(kv ...any) log.Logger {
	with := append(append([]any{}, s.with...), kv...)
	return &spyLogger{Logger: s.Logger, mu: s.mu, entries: s.entries, with: with}
}

func (s *spyLogger) record(e spyEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.with = s.with
	*s.entries = append(*s.entries, e)
}

func (s *spyLogger) Info(_ context.Context, msg string, kv ...any) {
	s.record(spyEntry{level: "info", msg: msg, kv: kv})
}

func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.record(spyEntry{level: "error", msg: msg, err: err, kv: kv})
}

func (s *spyLogger) all() []spyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spyEntry(nil), *s.entries...)
}

// field returns the value following key in kv.
func field(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			return kv[i+1], true
		}
	}
	return nil, false
}
