package logging

const (
	LogLevelDebug = 0
	LogLevelInfo  = 1
	LogLevelWarn  = 2
	LogLevelError = 3
)

type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type LogFunc func(format string, args ...interface{})

type LogFuncs struct {
	Debugf LogFunc
	Infof  LogFunc
	Warnf  LogFunc
	Errorf LogFunc
}

type logger struct {
	prefix string
	funcs  LogFuncs
}

// NewLogger routes leveled messages to funcs, prepending prefix.
// Missing funcs silently drop messages of that level.
func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &logger{
		prefix: prefix,
		funcs:  funcs,
	}
}

// WithPrefix returns a logger that prepends prefix before delegating to l
func WithPrefix(l Logger, prefix string) Logger {
	return NewLogger(prefix, LogFuncs{
		Debugf: l.Debugf,
		Infof:  l.Infof,
		Warnf:  l.Warnf,
		Errorf: l.Errorf,
	})
}

// Nop discards everything
func Nop() Logger {
	return NewLogger("", LogFuncs{})
}

func (l *logger) logf(level int, msg string, args ...interface{}) {
	if l.prefix != "" {
		msg = l.prefix + msg
	}
	var f LogFunc
	switch level {
	case LogLevelDebug:
		f = l.funcs.Debugf
	case LogLevelInfo:
		f = l.funcs.Infof
	case LogLevelWarn:
		f = l.funcs.Warnf
	case LogLevelError:
		f = l.funcs.Errorf
	}
	if f != nil {
		f(msg, args...)
	}
}

func (l *logger) LogLevelf(level int, format string, args ...interface{}) {
	l.logf(level, format, args...)
}

func (l *logger) Debugf(msg string, args ...interface{}) {
	l.logf(LogLevelDebug, msg, args...)
}

func (l *logger) Infof(msg string, args ...interface{}) {
	l.logf(LogLevelInfo, msg, args...)
}

func (l *logger) Warnf(msg string, args ...interface{}) {
	l.logf(LogLevelWarn, msg, args...)
}

func (l *logger) Errorf(msg string, args ...interface{}) {
	l.logf(LogLevelError, msg, args...)
}
