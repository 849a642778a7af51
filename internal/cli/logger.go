package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pthm/pgquery/pkg/query"
)

// NewLogger builds the CLI logger. It writes console-encoded entries to
// stderr. The level is warn by default, info with -v, debug with -vv, and
// error with -q.
func NewLogger(verbose int, quiet bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(logLevel(verbose, quiet))
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.TimeKey = ""
	return cfg.Build()
}

func logLevel(verbose int, quiet bool) zapcore.Level {
	switch {
	case quiet:
		return zapcore.ErrorLevel
	case verbose >= 2:
		return zapcore.DebugLevel
	case verbose == 1:
		return zapcore.InfoLevel
	}
	return zapcore.WarnLevel
}

// TraceLogger adapts compiler trace events onto l at debug level.
func TraceLogger(l *zap.Logger) query.TraceFunc {
	l = l.Named("compile")
	return func(ev query.TraceEvent) {
		if !l.Core().Enabled(zapcore.DebugLevel) {
			return
		}
		l.Debug(ev.Event,
			zap.String("key", ev.Key),
			zap.String("sql", ev.SQL),
			zap.Int("values", ev.Values),
		)
	}
}
