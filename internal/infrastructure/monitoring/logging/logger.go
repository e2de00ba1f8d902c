// Package logging provides the structured logging interface shared by every
// renewal component and its zap-backed implementation. Business code depends
// on Logger only; go.uber.org/zap is not imported outside this package.
//
// Initialisation order in cmd/*/main.go:
//
//  1. Load configuration.
//  2. NewLogger(cfg.Log) and logging.SetDefault.
//  3. Build repositories and services, injecting the Logger.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ─────────────────────────────────────────────────────────────────────────────
// Field
// ─────────────────────────────────────────────────────────────────────────────

// Field is a typed key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String constructs a Field with a string value.
func String(key, val string) Field { return Field{Key: key, Value: val} }

// Int constructs a Field with an int value.
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Int64 constructs a Field with an int64 value.
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }

// Float64 constructs a Field with a float64 value.
func Float64(key string, val float64) Field { return Field{Key: key, Value: val} }

// Bool constructs a Field with a bool value.
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Err captures an error under the key "error".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any constructs a Field with an arbitrary value.
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }

// Duration constructs a Field with a time.Duration value.
func Duration(key string, val time.Duration) Field { return Field{Key: key, Value: val} }

// Int64s constructs a Field holding a list of ids.
func Int64s(key string, val []int64) Field { return Field{Key: key, Value: val} }

// ─────────────────────────────────────────────────────────────────────────────
// Logger
// ─────────────────────────────────────────────────────────────────────────────

// Logger is the structured logging contract injected into every component.
// Implementations must be safe for concurrent use: the batcher and the fee
// calculator log from several goroutines at once.
type Logger interface {
	// Debug records per-task detail such as fee lookups and skipped rows.
	// Disabled in production by default.
	Debug(msg string, fields ...Field)

	// Info records one line per completed operation: a committed transition
	// batch, a sent notification group, a written export.
	Info(msg string, fields ...Field)

	// Warn records a recoverable anomaly. The operation continues, for
	// example with a default VAT rate or without an unreachable recipient.
	Warn(msg string, fields ...Field)

	// Error records a failed operation together with the ids needed to retry
	// it by hand.
	Error(msg string, fields ...Field)

	// Fatal logs and then calls os.Exit(1). Only cmd/*/main.go calls it,
	// while the process is starting.
	Fatal(msg string, fields ...Field)

	// With returns a child Logger that adds fields to every entry. The
	// receiver is left unchanged.
	With(fields ...Field) Logger

	// Named returns a child Logger whose name is the parent's name plus
	// "." + name ("renewal" → "renewal.workflow").
	Named(name string) Logger
}

// LogConfig carries the parameters required to construct a Logger. It is the
// `log` section of the renewal configuration file.
type LogConfig struct {
	// Level is the minimum severity emitted: "debug", "info", "warn" or
	// "error", case-insensitive. Empty or unknown values mean "info". The
	// level can be changed on a running process through LevelHandle.
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// Format is "json" for log shipping or "console" for a terminal.
	// Anything else means "json".
	Format string `mapstructure:"format" yaml:"format" json:"format"`

	// OutputPaths lists the sinks for entries. "stdout" and "stderr" are
	// recognised by zap; other values are file paths. Defaults to stdout.
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths" json:"output_paths"`

	// ErrorOutputPaths receives zap's own failures, such as an unwritable
	// file. Defaults to stderr.
	ErrorOutputPaths []string `mapstructure:"error_output_paths" yaml:"error_output_paths" json:"error_output_paths"`
}

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ─────────────────────────────────────────────────────────────────────────────
// zapLogger
// ─────────────────────────────────────────────────────────────────────────────

// zapLogger is the production Logger. Every call goes through the non-sugared
// *zap.Logger.
type zapLogger struct {
	z *zap.Logger
}

// toZapFields maps each Field onto the typed zap constructor for its value.
// Id lists ([]int64, as carried by batch and notification logs) stay arrays in
// JSON output; unknown types go through zap.Any.
func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case []int64:
			out = append(out, zap.Int64s(f.Key, v))
		case float64:
			out = append(out, zap.Float64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZapFields(fields)...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, toZapFields(fields)...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...)}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

// ─────────────────────────────────────────────────────────────────────────────
// Construction
// ─────────────────────────────────────────────────────────────────────────────

// ParseLevel converts a level name to a zapcore.Level. Unknown values map to
// InfoLevel.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn, "warning":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LevelHandle changes the minimum level of a running Logger. It is returned by
// NewLoggerWithLevel and used by the config watcher.
type LevelHandle struct {
	level zap.AtomicLevel
}

// SetLevel switches the emitted level at runtime.
func (h *LevelHandle) SetLevel(level string) {
	if h == nil {
		return
	}
	h.level.SetLevel(ParseLevel(level))
}

// Level reports the current level name.
func (h *LevelHandle) Level() string {
	if h == nil {
		return LevelInfo
	}
	return h.level.Level().String()
}

// NewLogger builds a zap-backed Logger according to cfg.
func NewLogger(cfg LogConfig) (Logger, error) {
	l, _, err := NewLoggerWithLevel(cfg)
	return l, err
}

// NewLoggerWithLevel builds a Logger and the handle that controls its level.
// Defaults: level "info", format "json", output stdout, errors stderr.
func NewLoggerWithLevel(cfg LogConfig) (Logger, *LevelHandle, error) {
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	var encCfg zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoding = "console"
	} else {
		encCfg = zap.NewProductionEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	atom := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	zapCfg := zap.Config{
		Level:            atom,
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, nil, fmt.Errorf("logging: failed to build zap logger: %w", err)
	}
	return &zapLogger{z: z}, &LevelHandle{level: atom}, nil
}

// NewLoggerFromCore wraps an existing zapcore.Core (observed logs in tests).
func NewLoggerFromCore(core zapcore.Core) Logger {
	return &zapLogger{z: zap.New(core, zap.AddCallerSkip(1))}
}

// ─────────────────────────────────────────────────────────────────────────────
// nopLogger
// ─────────────────────────────────────────────────────────────────────────────

// nopLogger discards every entry. It is the process default until SetDefault
// is called and the logger of choice in unit tests.
type nopLogger struct{}

func (nopLogger) Debug(_ string, _ ...Field) {}
func (nopLogger) Info(_ string, _ ...Field)  {}
func (nopLogger) Warn(_ string, _ ...Field)  {}
func (nopLogger) Error(_ string, _ ...Field) {}
func (nopLogger) Fatal(_ string, _ ...Field) {}
func (n nopLogger) With(_ ...Field) Logger   { return n }
func (n nopLogger) Named(_ string) Logger    { return n }

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger { return nopLogger{} }

// ─────────────────────────────────────────────────────────────────────────────
// KV adapter
// ─────────────────────────────────────────────────────────────────────────────

// KV adapts a Logger to the key/value style used by the repositories
// ("msg", "key", value, ...). Odd trailing keys are logged under "extra".
type KV struct {
	L Logger
}

// fields pairs up keysAndValues. Non-string keys are formatted with
// fmt.Sprint.
func (k KV) fields(keysAndValues []interface{}) []Field {
	out := make([]Field, 0, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 >= len(keysAndValues) {
			out = append(out, Any("extra", keysAndValues[i]))
			break
		}
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, Any(key, keysAndValues[i+1]))
	}
	return out
}

func (k KV) Debug(msg string, keysAndValues ...interface{}) { k.L.Debug(msg, k.fields(keysAndValues)...) }
func (k KV) Info(msg string, keysAndValues ...interface{})  { k.L.Info(msg, k.fields(keysAndValues)...) }
func (k KV) Warn(msg string, keysAndValues ...interface{})  { k.L.Warn(msg, k.fields(keysAndValues)...) }
func (k KV) Error(msg string, keysAndValues ...interface{}) { k.L.Error(msg, k.fields(keysAndValues)...) }

// ─────────────────────────────────────────────────────────────────────────────
// Process-wide default
// ─────────────────────────────────────────────────────────────────────────────

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = nopLogger{}
)

// SetDefault replaces the process-wide default Logger. nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide default Logger.
func Default() Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	return l
}
