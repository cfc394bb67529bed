// Package logger provides the process-wide zap logger and request scoping.
//
// Init is called once from main; code with a context uses From(ctx) so that
// request-scoped fields (request_id, method, path) are carried along.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the logger
type Config struct {
	// Env selects the encoder: "prod" writes JSON, anything else writes console output.
	Env string
	// Level is the minimum level: debug, info, warn, error.
	Level       string
	ServiceName string
}

var (
	once     sync.Once
	instance *zap.Logger
)

// Init builds the singleton. Only the first call has an effect.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L returns the singleton, building a dev logger if Init was never called.
func L() *zap.Logger {
	Init(Config{Env: "dev", Level: "info"})
	return instance
}

// Named returns a child logger for a component
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered entries
func Sync() error {
	if instance == nil {
		return nil
	}
	return instance.Sync()
}

func build(cfg Config) *zap.Logger {
	level := parseLevel(cfg.Level)

	var zcfg zap.Config
	if strings.EqualFold(cfg.Env, "prod") {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zcfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		l, _ = zap.NewProduction()
	}

	if cfg.ServiceName != "" {
		l = l.With(zap.String("service", cfg.ServiceName))
	}
	return l
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
