// Package logging builds the client's zap logger: console plus rotating
// file output, with credentials and image payloads scrubbed from every
// entry.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level as accepted by ParseLogLevel. Empty means debug in
	// development mode and info otherwise.
	Level       string
	Development bool
	// FilePath enables the rotating JSON file sink when set.
	FilePath string
	File     FileWriterConfig
	// Console defaults to stdout.
	Console zapcore.WriteSyncer
}

// New returns a logger named "devoid" together with the atomic level so
// callers can change verbosity at runtime.
//
//	logger, _, err := logging.New(logging.Options{FilePath: cfg.LogFile})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	def := zapcore.InfoLevel
	if opts.Development {
		def = zapcore.DebugLevel
	}
	level := zap.NewAtomicLevelAt(ParseLogLevel(opts.Level, def))

	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stdout)
	}
	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, level, fmt.Errorf("failed to create log directory: %w", err)
		}
		file = NewFileWriter(opts.FilePath, opts.File)
	}

	core := NewRedactingCore(NewMultiCore(level, console, file, opts.Development))
	zopts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Development {
		zopts = append(zopts, zap.Development())
	}
	return zap.New(core, zopts...).Named("devoid"), level, nil
}

// Sync flushes logger and ignores the EINVAL returned when stdout is a
// terminal.
func Sync(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := logger.Sync(); err != nil && !isStdSyncError(err) {
		return err
	}
	return nil
}
