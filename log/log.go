// Package log is a thin wrapper over a zap SugaredLogger that exposes
// package-level logging functions, so that the rest of the node can log
// without carrying a logger around.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.SugaredLogger

func init() {
	// default logger, overridden by Init once the config is loaded
	if err := Init("info", []string{"stdout"}); err != nil {
		panic(err)
	}
}

// Init initializes the package-level logger with the given level
// ("debug", "info", "warn", "error") and output paths.
func Init(levelStr string, outputs []string) error {
	var level zap.AtomicLevel
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		return err
	}
	cfg := zap.Config{
		Level:            level,
		Encoding:         "console",
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "msg",
			LevelKey:       "level",
			TimeKey:        "ts",
			CallerKey:      "caller",
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	log = logger.Sugar()
	return nil
}

// Debug calls log.Debug
func Debug(args ...interface{}) { log.Debug(args...) }

// Info calls log.Info
func Info(args ...interface{}) { log.Info(args...) }

// Warn calls log.Warn
func Warn(args ...interface{}) { log.Warn(args...) }

// Error calls log.Error
func Error(args ...interface{}) { log.Error(args...) }

// Fatal calls log.Fatal
func Fatal(args ...interface{}) { log.Fatal(args...) }

// Debugf calls log.Debugf
func Debugf(template string, args ...interface{}) { log.Debugf(template, args...) }

// Infof calls log.Infof
func Infof(template string, args ...interface{}) { log.Infof(template, args...) }

// Warnf calls log.Warnf
func Warnf(template string, args ...interface{}) { log.Warnf(template, args...) }

// Errorf calls log.Errorf
func Errorf(template string, args ...interface{}) { log.Errorf(template, args...) }

// Fatalf calls log.Fatalf
func Fatalf(template string, args ...interface{}) { log.Fatalf(template, args...) }

// Debugw calls log.Debugw
func Debugw(template string, kv ...interface{}) { log.Debugw(template, kv...) }

// Infow calls log.Infow
func Infow(template string, kv ...interface{}) { log.Infow(template, kv...) }

// Warnw calls log.Warnw
func Warnw(template string, kv ...interface{}) { log.Warnw(template, kv...) }

// Errorw calls log.Errorw
func Errorw(template string, kv ...interface{}) { log.Errorw(template, kv...) }

// Fatalw calls log.Fatalw
func Fatalw(template string, kv ...interface{}) { log.Fatalw(template, kv...) }
