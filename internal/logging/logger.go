package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger passed to every gateway component.
type Logger struct {
	*zap.SugaredLogger
}

// Config holds configuration for the logger
type Config struct {
	Level      string `yaml:"level"`
	OutputPath string `yaml:"output_path"`
	Encoding   string `yaml:"encoding"`
	DevMode    bool   `yaml:"dev_mode"`
}

// DefaultConfig returns JSON logging at info level to stdout.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		OutputPath: "stdout",
		Encoding:   "json",
	}
}

// New creates a new logger with the given configuration
func New(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "stdout"
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapConfig zap.Config
	if cfg.DevMode {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{cfg.OutputPath}
	if cfg.Encoding != "" {
		zapConfig.Encoding = cfg.Encoding
	}

	zapLogger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return &Logger{zapLogger.Sugar()}, nil
}

// NewDevelopmentLogger creates a debug-level console logger.
func NewDevelopmentLogger() (*Logger, error) {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.Encoding = "console"
	cfg.DevMode = true
	return New(cfg)
}

// NewNop returns a logger that discards everything. Used by tests and by
// components constructed without a logger.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{l.With(key, value)}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{l.With(args...)}
}

// WithError adds an error field to the logger context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{l.With("error", err)}
}

// Component tags every entry with the emitting component, mirroring the
// component field of the orchestrator's structured events.
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}
