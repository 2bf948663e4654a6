package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines Zap-specific configuration
type ZapConfig struct {
	Level      string `yaml:"level,omitempty"`      // "debug", "info", "warn", "error"
	Format     string `yaml:"format,omitempty"`     // "json", "console"
	Output     string `yaml:"output,omitempty"`     // "stdout", "stderr", file path
	Caller     bool   `yaml:"caller,omitempty"`     // Include caller information
	Stacktrace bool   `yaml:"stacktrace,omitempty"` // Include stacktrace on errors
}

// DefaultZapConfig returns the configuration used when none is given.
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// ZapBackend owns a zap logger and exposes it through LogFuncs.
type ZapBackend struct {
	logger  *zap.Logger
	sugar   *zap.SugaredLogger
	closeFn func()
}

// NewZapBackend builds a zap logger from config.
func NewZapBackend(config ZapConfig) (*ZapBackend, error) {
	zapLogger, closeFn, err := createZapLogger(config)
	if err != nil {
		return nil, err
	}
	return &ZapBackend{
		logger:  zapLogger,
		sugar:   zapLogger.Sugar(),
		closeFn: closeFn,
	}, nil
}

// NewZapBackendFromLogger wraps an existing zap logger, e.g. zaptest or an observer core.
func NewZapBackendFromLogger(zapLogger *zap.Logger) *ZapBackend {
	return &ZapBackend{
		logger:  zapLogger,
		sugar:   zapLogger.Sugar(),
		closeFn: func() {},
	}
}

// LogFuncs adapts the backend for NewLogger.
func (z *ZapBackend) LogFuncs() LogFuncs {
	return LogFuncs{
		Debugf: z.sugar.Debugf,
		Infof:  z.sugar.Infof,
		Warnf:  z.sugar.Warnf,
		Errorf: z.sugar.Errorf,
	}
}

// Logger returns a prefixed Logger writing to this backend.
func (z *ZapBackend) Logger(prefix string) Logger {
	return NewLogger(prefix, z.LogFuncs())
}

// Close flushes buffered entries and releases the output file, if any.
func (z *ZapBackend) Close() error {
	err := z.logger.Sync()
	z.closeFn()
	return err
}

func createZapLogger(config ZapConfig) (*zap.Logger, func(), error) {
	level, err := getLevelFromString(config.Level)
	if err != nil {
		return nil, nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	output := config.Output
	if output == "" {
		output = "stderr"
	}
	writeSyncer, closeFn, err := zap.Open(output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output %q: %w", output, err)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(writeSyncer), level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...), closeFn, nil
}

// zapcore.ParseLevel only exists from v1.27.0 on
func getLevelFromString(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
