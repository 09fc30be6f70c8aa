// Package logging wires the process-wide zap logger: a JSON file sink
// backed by lumberjack, and, when verbose diagnostics are requested, a
// human-readable console core tee'd alongside it (spec §4.10). It
// generalizes the teacher's utils/log.go, which built the same tee'd
// zapcore.Core but left the console half commented out; this expansion
// turns both cores on since the daemon wants both a durable log file and
// interactive diagnostics.
package logging

import (
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger (spec §4.8 LogConfig, §4.9 --verbose/
// --debug/--quiet flags).
type Options struct {
	Level      string // "debug".."fatal", as in the teacher's levelMap
	Path       string // file sink path; empty disables the file core
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool // enable the human-readable stdout core
	Quiet      bool // raise the console core to error level
}

var levelMap = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

// New builds a *zap.Logger per Options. Unknown or empty levels default
// to info, matching the teacher's implicit zero-value behavior on its
// levelMap lookup.
func New(opts Options) *zap.Logger {
	level, ok := levelMap[opts.Level]
	if !ok {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core

	if opts.Path != "" {
		hook := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    nonZero(opts.MaxSizeMB, 1024),
			MaxBackups: nonZero(opts.MaxBackups, 5),
			MaxAge:     nonZero(opts.MaxAgeDays, 30),
			Compress:   true,
		}
		fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(hook), level))
	}

	if opts.Console {
		consoleLevel := level
		if opts.Quiet {
			consoleLevel = zapcore.ErrorLevel
		}
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), consoleLevel))
	}

	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}
