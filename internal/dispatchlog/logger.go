package dispatchlog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zap.Logger with the ability to switch levels at runtime,
// used to drop an instance to its configured (possibly quiet) level after
// startup and force it back to info for shutdown visibility.
type Logger struct {
	*zap.Logger
	consoleLevel *zap.AtomicLevel
	fileLevel    *zap.AtomicLevel
	configured   Config
}

// SwitchToConfiguredLevel restores the console/file levels to what Config
// specified, undoing any startup override.
func (l *Logger) SwitchToConfiguredLevel() {
	global := parseLevel(l.configured.Level)

	l.Info("switching logger to configured level", zap.String("level", l.configured.Level))

	if l.consoleLevel != nil {
		l.consoleLevel.SetLevel(resolveLevel(l.configured.Console.Level, global))
	}
	if l.fileLevel != nil {
		l.fileLevel.SetLevel(resolveLevel(l.configured.File.Level, global))
	}
}

// EnsureInfoLevelForShutdown temporarily raises both outputs to at least
// info level so an instance's close sequence is always visible, regardless
// of how quiet its configured level is.
func (l *Logger) EnsureInfoLevelForShutdown() {
	changed := false

	if l.consoleLevel != nil && l.consoleLevel.Level() > zap.InfoLevel {
		l.consoleLevel.SetLevel(zap.InfoLevel)
		changed = true
	}
	if l.fileLevel != nil && l.fileLevel.Level() > zap.InfoLevel {
		l.fileLevel.SetLevel(zap.InfoLevel)
		changed = true
	}
	if changed {
		l.Info("switched to info level for shutdown visibility")
	}
}

// New builds a Logger from Config. At least one of console/file must be
// enabled.
func New(cfg Config) (*Logger, error) {
	global := parseLevel(cfg.Level)

	var cores []zapcore.Core
	var consoleLevel, fileLevel *zap.AtomicLevel

	if cfg.Console.Enabled {
		level := zap.NewAtomicLevelAt(resolveLevel(cfg.Console.Level, global))
		consoleLevel = &level
		cores = append(cores, zapcore.NewCore(createEncoder(cfg.Console.Format), zapcore.Lock(os.Stdout), consoleLevel))
	}

	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("dispatchlog: file.path must be set when file logging is enabled")
		}
		level := zap.NewAtomicLevelAt(resolveLevel(cfg.File.Level, global))
		fileLevel = &level
		cores = append(cores, zapcore.NewCore(createEncoder(cfg.File.Format), createFileWriter(cfg.File.Path, cfg.File.Rotation), fileLevel))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("dispatchlog: at least one of console or file output must be enabled")
	}

	var core zapcore.Core
	if len(cores) == 1 {
		core = cores[0]
	} else {
		core = zapcore.NewTee(cores...)
	}

	return &Logger{
		Logger:       zap.New(core),
		consoleLevel: consoleLevel,
		fileLevel:    fileLevel,
		configured:   cfg,
	}, nil
}

// NewWithStartupOverride is like New, but if the configured level is above
// info it starts the logger at info and lets the caller drop to the
// configured (quieter) level later via SwitchToConfiguredLevel — so the
// instance's own startup sequence is never silently swallowed.
func NewWithStartupOverride(cfg Config) (*Logger, error) {
	configuredLevel := parseLevel(cfg.Level)
	if configuredLevel <= zap.InfoLevel {
		return New(cfg)
	}

	startup := cfg
	startup.Level = LevelInfo
	if startup.Console.Enabled && startup.Console.Level == "" {
		startup.Console.Level = LevelInfo
	}
	if startup.File.Enabled && startup.File.Level == "" {
		startup.File.Level = LevelInfo
	}

	l, err := New(startup)
	if err != nil {
		return nil, err
	}
	l.configured = cfg
	return l, nil
}

// NewDefault builds the console-only default Logger, for use before an
// instance's own options have been resolved.
func NewDefault() (*Logger, error) {
	return New(Default())
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case LevelDebug:
		return zap.DebugLevel
	case LevelInfo:
		return zap.InfoLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func resolveLevel(outputLevel string, global zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLevel(outputLevel)
	}
	return global
}

func createEncoder(format string) zapcore.Encoder {
	if format == FormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if format == FormatText {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func createFileWriter(path string, rotation RotationConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	})
}
