// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger flavor and its root name.
type Config struct {
	Development bool
	Name        string
}

// encoderConfig lays console lines out as time, level, logger name, message
// and then the structured fields.
func encoderConfig(development bool) zapcore.EncoderConfig {
	var enc zapcore.EncoderConfig
	if development {
		enc = zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		enc = zap.NewProductionEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	enc.TimeKey = "ts"
	enc.NameKey = "logger"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

// New builds a console zap.Logger configured for development or production.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.Sampling = nil
	}
	zcfg.Encoding = "console"
	zcfg.EncoderConfig = encoderConfig(cfg.Development)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if cfg.Name != "" {
		logger = logger.Named(cfg.Name)
	}
	return logger, nil
}
