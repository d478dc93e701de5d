package logger

import (
	"context"
	"os"
	"sync"

	logging "github.com/keybase/go-logging"
)

const (
	fancyFormat = "%{color}%{time:15:04:05.000} ▶ [%{level:.4s} %{module} %{shortfile}]%{color:reset} %{message}"
	plainFormat = "%{time:2006-01-02T15:04:05.000000Z07:00} ▶ [%{level:.4s} %{module} %{shortfile}] %{message}"
)

// ctxLogTags are printed in front of every message logged with a context
// that carries them.
type ctxLogTagsKey struct{}

// WithTags returns a context whose log lines are prefixed with tags, e.g.
// the operation name of a registry call.
func WithTags(ctx context.Context, tags string) context.Context {
	return context.WithValue(ctx, ctxLogTagsKey{}, tags)
}

func prepareString(ctx context.Context, fmts string) string {
	if ctx == nil {
		return fmts
	}
	if tags, ok := ctx.Value(ctxLogTagsKey{}).(string); ok && tags != "" {
		return "[" + tags + "] " + fmts
	}
	return fmts
}

var initBackendOnce sync.Once

func initBackend() {
	initBackendOnce.Do(func() {
		format := plainFormat
		if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			format = fancyFormat
		}
		backend := logging.NewLogBackend(os.Stderr, "", 0)
		formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(format))
		leveled := logging.AddModuleLevel(formatted)
		leveled.SetLevel(logging.INFO, "")
		logging.SetBackend(leveled)
	})
}

// Standard writes through github.com/keybase/go-logging to stderr.
type Standard struct {
	internal *logging.Logger
	module   string
}

var _ Logger = (*Standard)(nil)

// NewStandard returns a logger for module, at info level until Configure
// turns on debug output.
func NewStandard(module string) *Standard {
	initBackend()
	l := logging.MustGetLogger(module)
	l.ExtraCalldepth = 1
	return &Standard{internal: l, module: module}
}

func (l *Standard) CDebugf(ctx context.Context, fmt string, arg ...interface{}) {
	l.internal.Debugf(prepareString(ctx, fmt), arg...)
}

func (l *Standard) CInfof(ctx context.Context, fmt string, arg ...interface{}) {
	l.internal.Infof(prepareString(ctx, fmt), arg...)
}

func (l *Standard) CNoticef(ctx context.Context, fmt string, arg ...interface{}) {
	l.internal.Noticef(prepareString(ctx, fmt), arg...)
}

func (l *Standard) CWarningf(ctx context.Context, fmt string, arg ...interface{}) {
	l.internal.Warningf(prepareString(ctx, fmt), arg...)
}

func (l *Standard) CErrorf(ctx context.Context, fmt string, arg ...interface{}) {
	l.internal.Errorf(prepareString(ctx, fmt), arg...)
}

func (l *Standard) CCriticalf(ctx context.Context, fmt string, arg ...interface{}) {
	l.internal.Criticalf(prepareString(ctx, fmt), arg...)
}

func (l *Standard) CloneWithAddedDepth(depth int) Logger {
	clone := *l.internal
	clone.ExtraCalldepth += depth
	return &Standard{internal: &clone, module: l.module}
}

func (l *Standard) Configure(debug bool) {
	level := logging.INFO
	if debug {
		level = logging.DEBUG
	}
	logging.SetLevel(level, l.module)
}
