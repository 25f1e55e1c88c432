package log

import (
	"encoding/json"
	//nolint:depguard
	"log"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Fatal is for init-time failures only, before a Logger exists.
func Fatal(v ...any) {
	log.Fatal(v...)
}

// Logger wraps zap with named sub-modules whose levels can be tuned
// independently through the environment (see levels.go).
type Logger struct {
	*zap.Logger
	names  []string
	scoped func(names []string) *zap.Logger
}

// Module derives a child logger named after the component, e.g. "main.Signal".
func (l *Logger) Module(name string) *Logger {
	names := make([]string, len(l.names)+1)
	copy(names, l.names)
	names[len(l.names)] = name

	return &Logger{
		names:  names,
		Logger: l.scoped(names),
		scoped: l.scoped,
	}
}

// NewLogger builds the process logger. An empty configFile selects the
// built-in console encoder with env-driven levels.
func NewLogger(configFile string) (*Logger, error) {
	if configFile == "" {
		return newDefaultLogger(), nil
	}
	return newLoggerFromFile(configFile)
}

func newLoggerFromFile(configFile string) (*Logger, error) {
	bs, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}

	cfg := zap.Config{}
	if err := json.Unmarshal(bs, &cfg); err != nil {
		return nil, err
	}

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger: zapLogger.Named("main"),
		scoped: func(names []string) *zap.Logger {
			return zapLogger.Named(strings.Join(names, "."))
		},
	}, nil
}

func newDefaultLogger() *Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		},
	}

	encoder := zapcore.NewConsoleEncoder(encCfg)
	writer := zapcore.AddSync(os.Stdout)

	level := zapcore.InfoLevel
	if lv, ok := levelFromEnv("LOG_LEVEL"); ok {
		level = lv
	}

	base := zap.New(
		zapcore.NewCore(encoder, writer, zap.NewAtomicLevelAt(level)),
		zap.AddStacktrace(zapcore.FatalLevel),
	)

	scoped := func(names []string) *zap.Logger {
		core := zapcore.NewCore(
			encoder,
			writer,
			zap.NewAtomicLevelAt(moduleLevel(names)),
		)
		return zap.New(
			core,
			zap.AddStacktrace(zapcore.FatalLevel),
		).Named(strings.Join(names, "."))
	}

	return &Logger{
		Logger: base.Named("main"),
		scoped: scoped,
	}
}

func NewTest(t *testing.T) *Logger {
	logger := zaptest.NewLogger(t)
	return &Logger{
		Logger: logger,
		scoped: func(names []string) *zap.Logger {
			return logger.Named(strings.Join(names, "."))
		},
	}
}

func NewNop() *Logger {
	logger := zap.NewNop()
	return &Logger{
		Logger: logger,
		scoped: func(_ []string) *zap.Logger {
			return logger
		},
	}
}
