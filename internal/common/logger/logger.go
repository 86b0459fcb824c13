// Package logger provides the zap-backed structured logger used throughout
// the proxy, with runtime level switching so an operator can raise verbosity
// without a restart.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level string constants accepted in Config.Level / per-output overrides.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Format string constants accepted by Console.Format / File.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatText    = "text"
)

// Config describes the logger's outputs (spec's ambient logging layer).
type Config struct {
	Level   string        `yaml:"level"`
	Console ConsoleConfig `yaml:"console"`
	File    FileConfig    `yaml:"file"`
}

type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxAgeDays int  `yaml:"max_age_days"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// DynamicLogger wraps zap.Logger with the ability to switch levels at
// runtime, used to run quiet in steady state but escalate to INFO during
// startup/shutdown so the operator always sees lifecycle events.
type DynamicLogger struct {
	*zap.Logger
	consoleLevel *zap.AtomicLevel
	fileLevel    *zap.AtomicLevel
	configured   Config
}

// SwitchToConfiguredLevel restores the originally configured level after a
// temporary override (e.g. the startup INFO floor).
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	global := parseLevel(dl.configured.Level)
	dl.Info("switching logger to configured level", zap.String("level", dl.configured.Level))
	if dl.consoleLevel != nil {
		dl.consoleLevel.SetLevel(resolveLevel(dl.configured.Console.Level, global))
	}
	if dl.fileLevel != nil {
		dl.fileLevel.SetLevel(resolveLevel(dl.configured.File.Level, global))
	}
}

// EnsureInfoLevelForShutdown raises both outputs to at least INFO so
// shutdown sequencing is always visible regardless of steady-state level.
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	if dl.consoleLevel != nil && dl.consoleLevel.Level() > zap.InfoLevel {
		dl.consoleLevel.SetLevel(zap.InfoLevel)
	}
	if dl.fileLevel != nil && dl.fileLevel.Level() > zap.InfoLevel {
		dl.fileLevel.SetLevel(zap.InfoLevel)
	}
}

// New builds a logger from Config. At least one of Console/File must be enabled.
func New(cfg Config) (*DynamicLogger, error) {
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
			return nil, fmt.Errorf("logger: file.path must be set when file logging is enabled")
		}
		level := zap.NewAtomicLevelAt(resolveLevel(cfg.File.Level, global))
		fileLevel = &level
		cores = append(cores, zapcore.NewCore(createEncoder(cfg.File.Format), createFileWriter(cfg.File), fileLevel))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("logger: at least one of console or file output must be enabled")
	}

	var core zapcore.Core
	if len(cores) == 1 {
		core = cores[0]
	} else {
		core = zapcore.NewTee(cores...)
	}

	return &DynamicLogger{
		Logger:       zap.New(core),
		consoleLevel: consoleLevel,
		fileLevel:    fileLevel,
		configured:   cfg,
	}, nil
}

// NewWithStartupFloor is like New but starts the global level, and every
// enabled output without its own explicit level, at INFO when the
// configured level is quieter; an output with an explicit level keeps it.
// The caller calls SwitchToConfiguredLevel once startup logging (listener
// bind, rule count, upstream list) has been emitted.
func NewWithStartupFloor(cfg Config) (*DynamicLogger, error) {
	if parseLevel(cfg.Level) <= zap.InfoLevel {
		return New(cfg)
	}
	startup := cfg
	if startup.Console.Enabled && startup.Console.Level == "" {
		startup.Console.Level = LevelInfo
	}
	if startup.File.Enabled && startup.File.Level == "" {
		startup.File.Level = LevelInfo
	}
	startup.Level = LevelInfo

	dl, err := New(startup)
	if err != nil {
		return nil, err
	}
	dl.configured = cfg
	return dl, nil
}

// Default returns a console-only, debug-level logger for use before
// configuration has loaded.
func Default() (*DynamicLogger, error) {
	return New(Config{
		Level:   LevelDebug,
		Console: ConsoleConfig{Enabled: true, Format: FormatConsole},
	})
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case LevelDebug:
		return zap.DebugLevel
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
	cfg := zap.NewDevelopmentEncoderConfig()
	if format == FormatText {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func createFileWriter(cfg FileConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.Rotation.MaxSizeMB,
		MaxAge:     cfg.Rotation.MaxAgeDays,
		MaxBackups: cfg.Rotation.MaxBackups,
		Compress:   cfg.Rotation.Compress,
	})
}
