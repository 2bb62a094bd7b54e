package tlog

import (
	"fmt"

	"github.com/ridge/must/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"time"
)

const consoleEncoderName = "pistonen-console"

func init() {
	for _, color := range []bool{false, true} {
		color := color
		must.OK(zap.RegisterEncoder(consoleEncoder(color), func(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
			return newConsoleEncoder(cfg, color), nil
		}))
	}
}

func consoleEncoder(color bool) string {
	return fmt.Sprintf("%s;color=%t", consoleEncoderName, color)
}

func shortTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05.000000"))
}

// newConsoleEncoder returns a human-oriented encoder: time of day, level,
// logger name and message in columns followed by the fields as JSON
func newConsoleEncoder(cfg zapcore.EncoderConfig, color bool) zapcore.Encoder {
	cfg.EncodeTime = shortTimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncodeCaller = nil
	cfg.CallerKey = zapcore.OmitKey
	cfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(cfg)
}
