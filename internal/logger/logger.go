// Package logger builds the zap logger used by imstool.
package logger

import (
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/robert-malhotra/go-imaris/internal/config"
)

const (
	formatJSON    = "json"
	formatConsole = "console"
)

func safeLevel(lvl string) zap.AtomicLevel {
	switch strings.ToLower(lvl) {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

// New returns a logger writing to stderr, or to a rotating file when
// cfg.File is set.
func New(cfg config.LoggerConfig) (*zap.Logger, error) {
	c := zap.NewProductionConfig()
	c.Level = safeLevel(cfg.Level)
	c.OutputPaths = []string{"stderr"}
	c.ErrorOutputPaths = []string{"stderr"}
	c.Sampling = nil
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(cfg.Format) {
	case formatJSON:
		c.Encoding = formatJSON
	default:
		c.Encoding = formatConsole
	}

	if cfg.File == "" {
		return c.Build(zap.AddStacktrace(zap.NewAtomicLevelAt(zap.ErrorLevel)))
	}

	var enc zapcore.Encoder
	if c.Encoding == formatJSON {
		enc = zapcore.NewJSONEncoder(c.EncoderConfig)
	} else {
		enc = zapcore.NewConsoleEncoder(c.EncoderConfig)
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
	})
	core := zapcore.NewCore(enc, w, c.Level)
	return zap.New(core,
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.AddStacktrace(zap.NewAtomicLevelAt(zap.ErrorLevel))), nil
}
