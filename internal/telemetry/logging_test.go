package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevel_FromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, slog.LevelDebug, LogLevel())
	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, slog.LevelInfo, LogLevel())
}

func TestSetupLogger_TextAndContext(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := WithBatchID(setupLogger(&buf, "text"), "b-1")
	logger.Info("batch started")
	assert.Contains(t, buf.String(), "batch_id=b-1")

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
