package tlog

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"time"
)

func TestParse(t *testing.T) {
	format, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatText, format)
	format, err = ParseFormat("json")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)
	_, err = ParseFormat("xml")
	require.Error(t, err)

	color, err := ParseColor("auto")
	require.NoError(t, err)
	require.Equal(t, ColorAuto, color)
	color, err = ParseColor("no")
	require.NoError(t, err)
	require.Equal(t, ColorNo, color)
	_, err = ParseColor("maybe")
	require.Error(t, err)
}

func TestContext(t *testing.T) {
	require.NotNil(t, Get(context.Background()))
	Get(context.Background()).Info("Discarded")

	logger := NewForTesting(t)
	ctx := WithLogger(context.Background(), logger)
	require.Same(t, logger, Get(ctx))
	require.NotSame(t, logger, Get(With(ctx, zap.String("a", "b"))))
}

func TestConsoleEncoder(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(newConsoleEncoder(DefaultEncoderConfig, false), zapcore.AddSync(&buf), zapcore.DebugLevel)
	zap.New(core).Named("reactor").Info("Serving connections", zap.String("addr", "127.0.0.1:8080"))

	line := strings.TrimSpace(buf.String())
	fields := strings.SplitN(line, " ", 5)
	require.Len(t, fields, 5)
	_, err := time.Parse("15:04:05.000000", fields[0])
	require.NoError(t, err)
	require.Equal(t, "INFO", fields[1])
	require.Equal(t, "reactor", fields[2])
	require.Equal(t, `Serving connections {"addr": "127.0.0.1:8080"}`, fields[3]+" "+fields[4])
}
