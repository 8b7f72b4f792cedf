// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons provides the cross-cutting logging facility shared by
// every package in the gateway.
package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging contract used throughout the gateway.
// It mirrors zap's SugaredLogger surface so call sites can pass either a
// production or a development logger interchangeably.
type Logger interface {
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Fatalf(template string, args ...interface{})

	// Sync flushes any buffered log entries. Call before process exit.
	Sync() error
}

// LoggerConfig controls where logs are written and at what verbosity.
type LoggerConfig struct {
	LogsDir    string
	Production bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewApplicationLogger builds a zap-backed Logger. In production mode logs
// are JSON-encoded and rotated into LogsDir via lumberjack; in development
// mode a human-readable console encoder writes to stderr only.
func NewApplicationLogger(cfg LoggerConfig) (Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if cfg.Production {
		if cfg.LogsDir != "" {
			if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
				return nil, err
			}
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogsDir + "/gateway.log",
			MaxSize:    maxOrDefault(cfg.MaxSizeMB, 100),
			MaxBackups: maxOrDefault(cfg.MaxBackups, 5),
			MaxAge:     maxOrDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		writer := zapcore.NewMultiWriteSyncer(
			zapcore.AddSync(rotator),
			zapcore.AddSync(os.Stderr),
		)
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, zap.InfoLevel)
	} else {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stderr), zap.DebugLevel)
	}

	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return zl.Sugar(), nil
}

// NewNopLogger builds a Logger that discards everything, for tests that
// need to satisfy the interface without asserting on log output.
func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}

func maxOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
