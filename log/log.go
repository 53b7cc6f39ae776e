// Package log wraps zap the way the teacher's utils/log package is called
// throughout uber-kraken (log.New(config, fields) returning a configured
// logger); only the call sites were present in the retrieved pack, not
// utils/log's own source, so the package is reconstructed here to that
// observed contract.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's level and output format.
type Config struct {
	Level      string `yaml:"level"`       // "debug", "info", "warn", "error"
	Encoding   string `yaml:"encoding"`     // "json" or "console"
	OutputPath string `yaml:"output_path"`  // "stdout", "stderr", or a file path
}

func (c Config) applyDefaults() Config {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Encoding == "" {
		c.Encoding = "console"
	}
	if c.OutputPath == "" {
		c.OutputPath = "stderr"
	}
	return c
}

// New builds a *zap.SugaredLogger configured per config, pre-populated
// with fields (e.g. "my_peerid": "...") the way dispatch.Dispatcher and
// scheduler.scheduler tag every log line with their own identity.
func New(config Config, fields map[string]interface{}) (*zap.SugaredLogger, error) {
	config = config.applyDefaults()

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		return nil, err
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         config.Encoding,
		OutputPaths:      []string{config.OutputPath},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}

	sugared := logger.Sugar()
	for k, v := range fields {
		sugared = sugared.With(k, v)
	}
	return sugared, nil
}
