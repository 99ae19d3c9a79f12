// Package logging provides a structured logging system based on zap.
// The shim runs inside arbitrary host processes, so the default
// logger is a no-op: nothing is emitted unless Init enables it
// (typically via LIBOVERLAY_DEBUG). All output goes to stderr; stdout
// belongs to the host program.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

func init() {
	logger = zap.NewNop()
	sugar = logger.Sugar()
}

// Init initializes the logging system with the given configuration.
// It should be called once, early, by whichever entry point owns the
// process (the interposition init or a CLI main).
func Init(cfg *Config) {
	core := zapcore.NewCore(
		createEncoder(cfg.Format),
		zapcore.AddSync(os.Stderr),
		parseLevel(cfg.Level),
	)
	logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	sugar = logger.Sugar()
}

// parseLevel converts a string level to zapcore.Level.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// createEncoder creates the appropriate encoder based on format.
func createEncoder(format string) zapcore.Encoder {
	if strings.ToLower(format) == "json" {
		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return logger.Sync()
}

// L returns the underlying zap.Logger for advanced usage.
func L() *zap.Logger {
	return logger
}

// S returns the underlying zap.SugaredLogger for advanced usage.
func S() *zap.SugaredLogger {
	return sugar
}

// Debug logs a message at DebugLevel with structured fields.
func Debug(msg string, fields ...zap.Field) {
	logger.Debug(msg, fields...)
}

// Info logs a message at InfoLevel with structured fields.
func Info(msg string, fields ...zap.Field) {
	logger.Info(msg, fields...)
}

// Warn logs a message at WarnLevel with structured fields.
func Warn(msg string, fields ...zap.Field) {
	logger.Warn(msg, fields...)
}

// Error logs a message at ErrorLevel with structured fields.
func Error(msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
}

// Fatal logs a message at FatalLevel with structured fields, then
// calls os.Exit(1).
func Fatal(msg string, fields ...zap.Field) {
	logger.Fatal(msg, fields...)
}

// Debugf logs a formatted message at DebugLevel.
func Debugf(template string, args ...interface{}) {
	sugar.Debugf(template, args...)
}

// Infof logs a formatted message at InfoLevel.
func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

// Warnf logs a formatted message at WarnLevel.
func Warnf(template string, args ...interface{}) {
	sugar.Warnf(template, args...)
}

// Errorf logs a formatted message at ErrorLevel.
func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

// Fatalf logs a formatted message at FatalLevel, then calls os.Exit(1).
func Fatalf(template string, args ...interface{}) {
	sugar.Fatalf(template, args...)
}

// String creates a string field.
func String(key, value string) zap.Field {
	return zap.String(key, value)
}

// Err creates an error field with key "error".
func Err(err error) zap.Field {
	return zap.Error(err)
}
