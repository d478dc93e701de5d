package logger

import "context"

type BaseLogger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// ContextInterface is what registry, storage and indexer methods take as
// their first argument: a context.Context for cancellation plus a logger.
type ContextInterface interface {
	BaseLogger
	Ctx() context.Context
	UpdateContextToLoggerContext(context.Context) ContextInterface
}

type Logger interface {
	// CDebugf logs a message at debug level, with a context and
	// formatting args.
	CDebugf(ctx context.Context, format string, args ...interface{})
	// CInfof logs a message at info level, with a context and formatting args.
	CInfof(ctx context.Context, format string, args ...interface{})
	// CNoticef logs a message at notice level, with a context and
	// formatting args.
	CNoticef(ctx context.Context, format string, args ...interface{})
	CWarningf(ctx context.Context, format string, args ...interface{})
	CErrorf(ctx context.Context, format string, args ...interface{})
	CCriticalf(ctx context.Context, format string, args ...interface{})

	// CloneWithAddedDepth returns a logger that is like the current one,
	// except with more call depth added on, so that file:line points at the
	// caller of the wrapper instead of the wrapper.
	CloneWithAddedDepth(depth int) Logger
	// Configure sets the debug level of the logger.
	Configure(debug bool)
}

type Context struct {
	ctx context.Context
	Logger
}

func NewContext(c context.Context, l Logger) Context {
	return Context{ctx: c, Logger: l}
}

// NewContextTodo is for call sites, like binaries, that have no request
// context.
func NewContextTodo(l Logger) Context {
	return NewContext(context.TODO(), l)
}

var _ ContextInterface = Context{}

func (c Context) Ctx() context.Context {
	return c.ctx
}

func (c Context) UpdateContextToLoggerContext(ctx context.Context) ContextInterface {
	return NewContext(ctx, c.Logger)
}

func (c Context) Debug(format string, arg ...interface{}) {
	c.Logger.CloneWithAddedDepth(1).CDebugf(c.ctx, format, arg...)
}

func (c Context) Info(format string, arg ...interface{}) {
	c.Logger.CloneWithAddedDepth(1).CInfof(c.ctx, format, arg...)
}

func (c Context) Notice(format string, arg ...interface{}) {
	c.Logger.CloneWithAddedDepth(1).CNoticef(c.ctx, format, arg...)
}

func (c Context) Warning(format string, arg ...interface{}) {
	c.Logger.CloneWithAddedDepth(1).CWarningf(c.ctx, format, arg...)
}

func (c Context) Error(format string, arg ...interface{}) {
	c.Logger.CloneWithAddedDepth(1).CErrorf(c.ctx, format, arg...)
}

func (c Context) Critical(format string, arg ...interface{}) {
	c.Logger.CloneWithAddedDepth(1).CCriticalf(c.ctx, format, arg...)
}

type Null struct{}

func NewNull() *Null {
	return &Null{}
}

// Verify Null fully implements the Logger interface.
var _ Logger = (*Null)(nil)

func (l *Null) CDebugf(ctx context.Context, fmt string, arg ...interface{})    {}
func (l *Null) CInfof(ctx context.Context, fmt string, arg ...interface{})     {}
func (l *Null) CNoticef(ctx context.Context, fmt string, arg ...interface{})   {}
func (l *Null) CWarningf(ctx context.Context, fmt string, arg ...interface{})  {}
func (l *Null) CErrorf(ctx context.Context, fmt string, arg ...interface{})    {}
func (l *Null) CCriticalf(ctx context.Context, fmt string, arg ...interface{}) {}
func (l *Null) Configure(debug bool)                                           {}

func (l *Null) CloneWithAddedDepth(depth int) Logger { return l }
