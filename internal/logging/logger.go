// Package logging provides config-driven categorized logging for deskwatch.
// Logs go to stderr (or logging.file) so stdout stays reserved for JSON output.
// There is no process-wide logger: the root Logger is built once from config and
// handed to constructors, which derive their category child with For.
package logging

import (
	"fmt"

	"deskwatch/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config, wiring
	CategoryAPI      Category = "api"      // Model backend calls
	CategoryDetector Category = "detector" // Prompt → model → extract pipeline
	CategoryRules    Category = "rules"    // Rule document reads and appends
	CategoryLearn    Category = "learn"    // Unknown-term learning loop
	CategoryOCR      Category = "ocr"      // Text extraction collaborator
	CategoryWatch    Category = "watch"    // Folder watch mode
	CategoryJournal  Category = "journal"  // SQLite run journal
)

// Logger wraps a zap logger with a category and printf-style helpers.
// A nil *Logger is valid and discards everything.
type Logger struct {
	category Category
	base     *zap.Logger
	sugar    *zap.SugaredLogger
	cfg      config.LoggingConfig
}

var nopLogger = zap.NewNop()

// New builds the root logger from config.
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.EffectiveLevel())
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zcfg.OutputPaths = []string{cfg.File}
	}
	if cfg.Format != "json" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	base, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return FromZap(base, cfg), nil
}

// FromZap wraps an existing zap logger. Tests use it with zaptest/observer cores.
func FromZap(base *zap.Logger, cfg config.LoggingConfig) *Logger {
	if base == nil {
		base = nopLogger
	}
	return &Logger{
		base:  base,
		sugar: base.Sugar(),
		cfg:   cfg,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return FromZap(nopLogger, config.LoggingConfig{})
}

// For returns a child logger for the given category.
// Returns a no-op logger if the category is disabled in config.
func (l *Logger) For(category Category) *Logger {
	if l == nil {
		return Nop()
	}
	if !l.cfg.IsCategoryEnabled(string(category)) {
		child := Nop()
		child.category = category
		return child
	}
	named := l.base.Named(string(category))
	return &Logger{
		category: category,
		base:     named,
		sugar:    named.Sugar(),
		cfg:      l.cfg,
	}
}

// With returns a child logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l == nil {
		return Nop()
	}
	sugar := l.s().With(keysAndValues...)
	return &Logger{
		category: l.category,
		base:     sugar.Desugar(),
		sugar:    sugar,
		cfg:      l.cfg,
	}
}

// Category returns the logger's category (empty for the root logger).
func (l *Logger) Category() Category {
	if l == nil {
		return ""
	}
	return l.category
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.base == nil {
		return nopLogger
	}
	return l.base
}

func (l *Logger) s() *zap.SugaredLogger {
	if l == nil || l.sugar == nil {
		return nopLogger.Sugar()
	}
	return l.sugar
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.s().Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.s().Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.s().Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.s().Errorf(format, args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.base == nil {
		return nil
	}
	return l.base.Sync()
}
