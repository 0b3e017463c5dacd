package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig selects the zap backend behind a Logger
type ZapConfig struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Output io.Writer
}

// ZapLogger is a Logger backed by a zap sugared logger.
// Call Sync before the process exits.
type ZapLogger struct {
	Logger
	zap *zap.Logger
}

func (z *ZapLogger) Sync() {
	_ = z.zap.Sync()
}

// Zap exposes the underlying zap logger for structured fields
func (z *ZapLogger) Zap() *zap.Logger {
	return z.zap
}

// NewZapLogger builds a timestamped zap logger and adapts it to Logger
func NewZapLogger(config ZapConfig, prefix string) (*ZapLogger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.LevelKey = "level"

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var out io.Writer = os.Stdout
	if config.Output != nil {
		out = config.Output
	}
	writeSyncer := zapcore.Lock(zapcore.AddSync(out))

	zl := zap.New(zapcore.NewCore(encoder, writeSyncer, level))
	sugar := zl.Sugar()

	return &ZapLogger{
		Logger: NewLogger(prefix, LogFuncs{
			Debugf: sugar.Debugf,
			Infof:  sugar.Infof,
			Warnf:  sugar.Warnf,
			Errorf: sugar.Errorf,
		}),
		zap: zl,
	}, nil
}

// ParseLevel is zapcore.ParseLevel for the zap version we pin
func ParseLevel(levelStr string) (zapcore.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %q", levelStr)
	}
}
