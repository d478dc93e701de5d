package logger

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// TestLogger routes log lines through testing.TB so they only show up for
// failing tests or with -v. Lines logged after the test finished are
// dropped instead of panicking.
type TestLogger struct {
	tb    testing.TB
	mu    *sync.Mutex
	done  *bool
	depth int
}

var _ Logger = (*TestLogger)(nil)

func NewTestLogger(tb testing.TB) *TestLogger {
	done := false
	l := &TestLogger{tb: tb, mu: new(sync.Mutex), done: &done}
	tb.Cleanup(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		*l.done = true
	})
	return l
}

func (l *TestLogger) log(ctx context.Context, level string, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if *l.done {
		return
	}
	l.tb.Helper()
	l.tb.Logf("[%s] %s", level, fmt.Sprintf(prepareString(ctx, format), args...))
}

func (l *TestLogger) CDebugf(ctx context.Context, f string, a ...interface{}) {
	l.log(ctx, "DEBU", f, a...)
}
func (l *TestLogger) CInfof(ctx context.Context, f string, a ...interface{}) {
	l.log(ctx, "INFO", f, a...)
}
func (l *TestLogger) CNoticef(ctx context.Context, f string, a ...interface{}) {
	l.log(ctx, "NOTI", f, a...)
}
func (l *TestLogger) CWarningf(ctx context.Context, f string, a ...interface{}) {
	l.log(ctx, "WARN", f, a...)
}
func (l *TestLogger) CErrorf(ctx context.Context, f string, a ...interface{}) {
	l.log(ctx, "ERRO", f, a...)
}
func (l *TestLogger) CCriticalf(ctx context.Context, f string, a ...interface{}) {
	l.log(ctx, "CRIT", f, a...)
}

func (l *TestLogger) CloneWithAddedDepth(depth int) Logger {
	clone := *l
	clone.depth += depth
	return &clone
}

func (l *TestLogger) Configure(debug bool) {}

// NewTestContext is the usual first line of a test that calls into the
// registry, storage or indexer.
func NewTestContext(tb testing.TB) ContextInterface {
	return NewContext(context.TODO(), NewTestLogger(tb))
}
