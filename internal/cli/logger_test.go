package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pthm/pgquery/pkg/query"
	"github.com/pthm/pgquery/pkg/schema"
)

func TestLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, logLevel(0, false))
	assert.Equal(t, zapcore.InfoLevel, logLevel(1, false))
	assert.Equal(t, zapcore.DebugLevel, logLevel(3, false))
	assert.Equal(t, zapcore.ErrorLevel, logLevel(2, true)) // quiet wins
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(0, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestTraceLogger(t *testing.T) {
	reg := schema.NewRegistry()
	users := reg.MustRegister("users", map[string]schema.Column{
		"id":    {Type: "bigint", PrimaryKey: true},
		"email": {Type: "text"},
	})

	core, logs := observer.New(zapcore.DebugLevel)
	stmt, err := query.Compile(&query.Select{
		Table: users,
		Where: query.Filter(query.Col("email"), query.Eq("a@example.com")),
	}, query.WithTrace(TraceLogger(zap.New(core))))
	require.NoError(t, err)

	entries := logs.FilterMessage("statement").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "compile", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, "select", fields["key"])
	assert.Equal(t, stmt.SQL, fields["sql"])
	assert.EqualValues(t, 1, fields["values"])

	quiet, quietLogs := observer.New(zapcore.InfoLevel)
	_, err = query.Compile(&query.Select{Table: users}, query.WithTrace(TraceLogger(zap.New(quiet))))
	require.NoError(t, err)
	assert.Zero(t, quietLogs.Len())
}
