package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/Tener/ggp-aps/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	opts.JSON = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// lastRecord parses the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\n%s", err, buf.String())
	}
	return m
}

func TestSlog_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "ggp-repo", Component: "server", Version: "1.2.0"})

	l.Info(context.Background(), "serving", "port", 9140)

	m := lastRecord(t, &buf)
	for k, want := range map[string]any{
		"msg":       "serving",
		"app":       "ggp-repo",
		"component": "server",
		"version":   "1.2.0",
		"port":      float64(9140),
	} {
		if m[k] != want {
			t.Errorf("%s = %v, want %v", k, m[k], want)
		}
	}
	if _, ok := m["commit"]; ok {
		t.Error("empty commit should be omitted")
	}
	src, _ := m["source"].(map[string]any)
	if file, _ := src["file"].(string); !strings.HasSuffix(file, "slog_test.go") {
		t.Errorf("source = %v, want the calling test file", m["source"])
	}
}

func TestSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _ := newSlog(Options{App: "ggp-repo", Writer: &buf})
	l.Info(context.Background(), "text line")
	if !strings.Contains(buf.String(), "msg=\"text line\"") {
		t.Fatalf("text output = %s", buf.String())
	}
}

func TestSlog_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{Level: slog.LevelWarn})

	l.Debug(context.Background(), "d")
	l.Info(context.Background(), "i")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %s", buf.String())
	}
	l.Warn(context.Background(), "w")
	if lastRecord(t, &buf)["msg"] != "w" {
		t.Fatal("warn record missing")
	}
}

func TestSlog_WithIsCopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{})
	child := base.With("game", "ticTacToe", 42, "dropped", "dangling")

	child.Info(context.Background(), "child")
	m := lastRecord(t, &buf)
	if m["game"] != "ticTacToe" {
		t.Fatalf("game = %v", m["game"])
	}
	if _, ok := m["dangling"]; ok {
		t.Fatal("trailing key without value should be ignored")
	}

	base.Info(context.Background(), "parent")
	if _, ok := lastRecord(t, &buf)["game"]; ok {
		t.Fatal("With leaked into the parent")
	}
}

func TestSlog_ErrorAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{IncludeErrorLinks: true})

	root := errors.New("unexpected end of JSON input")
	err := xerrors.Wrapf(fmt.Errorf("parse METADATA: %w", root), "resolve %s", "/games/chess/")
	l.Error(context.Background(), err, "resource resolution failed", "outcome", "bad_metadata")

	m := lastRecord(t, &buf)
	if m["outcome"] != "bad_metadata" {
		t.Fatalf("outcome = %v", m["outcome"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	chain, _ := m["error_chain"].([]any)
	if len(chain) != 3 {
		t.Fatalf("error_chain = %v, want 3 links", m["error_chain"])
	}
	links, _ := m["error_links"].([]any)
	if len(links) == 0 {
		t.Fatal("error_links missing")
	}
	first, _ := links[0].(map[string]any)
	if fn, _ := first["func"].(string); !strings.HasSuffix(fn, "TestSlog_ErrorAttrs") {
		t.Fatalf("first link func = %v", first["func"])
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("error records carry a stack")
	}
}

func TestSlog_ErrorNil(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{})
	l.Error(context.Background(), nil, "no error")
	m := lastRecord(t, &buf)
	if _, ok := m["error_type"]; ok {
		t.Fatal("nil error must not add error attrs")
	}
}

func TestSlog_TraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := lastRecord(t, &buf)
	if m["trace_id"] != sc.TraceID().String() || m["span_id"] != sc.SpanID().String() {
		t.Fatalf("trace ids = %v / %v", m["trace_id"], m["span_id"])
	}

	l.Info(context.Background(), "untraced")
	if _, ok := lastRecord(t, &buf)["trace_id"]; ok {
		t.Fatal("trace_id without a span")
	}
}

func TestSlog_StacktraceLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{StacktraceLevel: slog.LevelWarn})

	l.Info(context.Background(), "info")
	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Fatal("stack below StacktraceLevel")
	}
	l.Warn(context.Background(), "warn")
	stack, _ := lastRecord(t, &buf)["stack"].(string)
	if !strings.Contains(stack, "testing.tRunner") {
		t.Fatalf("stack = %q", stack)
	}
}

func TestErrorChain(t *testing.T) {
	if got := errorChain(errors.New("one")); len(got) != 1 {
		t.Fatalf("single = %v", got)
	}

	joined := errors.Join(errors.New("a"), errors.New("b"))
	got := errorChain(joined)
	if len(got) != 3 || got[1] != "a" || got[2] != "b" {
		t.Fatalf("joined = %v", got)
	}

	// stacked layers repeat the message of the error they carry
	got = errorChain(xerrors.EnsureTrace(errors.New("same")))
	if len(got) != 1 {
		t.Fatalf("duplicates not collapsed: %v", got)
	}
}

type storeErr struct{ err error }

func (e *storeErr) Error() string { return "store: " + e.err.Error() }
func (e *storeErr) Unwrap() error { return e.err }

func TestClassifyTypes(t *testing.T) {
	if s, r := classifyTypes(nil); s != "" || r != "" {
		t.Fatal("nil error should classify empty")
	}

	inner := &storeErr{err: errors.New("x")}
	surface, root := classifyTypes(xerrors.Wrap(fmt.Errorf("ctx: %w", inner), "outer"))
	if surface != "*log.storeErr" {
		t.Fatalf("surface = %s, want wrappers skipped", surface)
	}
	if root != "*errors.errorString" {
		t.Fatalf("root = %s", root)
	}
}

func TestChainLinks_Max(t *testing.T) {
	err := errors.New("base")
	for i := 0; i < 5; i++ {
		err = xerrors.Wrapf(err, "layer %d", i)
	}
	if got := chainLinks(err, 2); len(got) != 2 {
		t.Fatalf("links = %d, want 2", len(got))
	}
	if got := chainLinks(err, 0); len(got) != 5 {
		t.Fatalf("unbounded links = %d, want 5 positioned wraps", len(got))
	}
}
