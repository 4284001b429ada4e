// internal/logger/logger.go
//
// Structured JSON logger (Zap + Lumberjack).
//
// Context
// -------
// The daemon writes lifecycle and error events as JSON to
// `<dir>/nekoconf.log`, rotated, compressed, and pruned by Lumberjack.  The
// same events can be teed, human-readable, to stderr.  Without a directory
// only the console core is installed, which is what the one-shot CLI
// commands use.
//
// Usage
// -----
//
//	log, err := logger.New(logger.Options{Dir: s.Log.Dir, Level: "info", Tee: true})
//	if err != nil { … }
//	log.Infow("server online", "addr", addr)
//
// Notes
// -----
// • ISO-8601 timestamps and lowercase levels.
// • The logger is installed process-wide via zap.ReplaceGlobals, so
//   packages that fall back to zap.S() pick it up.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileName is the active log file inside Options.Dir.
const FileName = "nekoconf.log"

// Options selects sinks and verbosity.
type Options struct {
	Dir   string `koanf:"dir"`
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Tee   bool   `koanf:"tee"`
}

// New builds the logger described by opts and installs it globally.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	var (
		cores   []zapcore.Core
		errSink zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	)

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, err
		}
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, FileName),
			MaxSize:    50, // MB
			MaxBackups: 7,
			MaxAge:     14, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileSink, level))
		errSink = fileSink
	}

	if opts.Tee || opts.Dir == "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(os.Stderr),
			level,
		))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.ErrorOutput(errSink)).Sugar()
	zap.ReplaceGlobals(z.Desugar())

	z.Debugw("logger online", "dir", opts.Dir, "level", level.String(), "tee", opts.Tee)
	return z, nil
}
