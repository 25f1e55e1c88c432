package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/iancoleman/strcase"
	"go.uber.org/zap/zapcore"
)

var envFunc = lookupEnv

func lookupEnv(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func parseLevel(s string) (zapcore.Level, bool) {
	var lvl zapcore.Level
	if err := lvl.Set(strings.ToLower(s)); err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}

func levelFromEnv(key string) (zapcore.Level, bool) {
	v, ok := envFunc(key)
	if !ok {
		return zapcore.InfoLevel, false
	}
	return parseLevel(v)
}

// moduleLevel resolves the level for a named module chain, most specific
// key first: LOG_LEVEL__MAIN__SIGNAL, LOG_LEVEL__MAIN, LOG_LEVEL.
func moduleLevel(names []string) zapcore.Level {
	keys := make([]string, 0, len(names)+1)

	snake := make([]string, len(names))
	for i, n := range names {
		snake[i] = strcase.ToScreamingSnake(n)
	}
	for i := len(snake); i > 0; i-- {
		keys = append(keys, fmt.Sprintf("LOG_LEVEL__%s", strings.Join(snake[:i], "__")))
	}
	keys = append(keys, "LOG_LEVEL")

	for _, k := range keys {
		if lv, ok := levelFromEnv(k); ok {
			return lv
		}
	}
	return zapcore.InfoLevel
}
