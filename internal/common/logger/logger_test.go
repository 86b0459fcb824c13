package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_ConsoleOnly(t *testing.T) {
	cfg := Config{
		Level:   "info",
		Console: ConsoleConfig{Enabled: true, Format: "console"},
	}

	log, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Info("test console logging")
}

func TestNew_FileOnly(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := Config{
		Level: "debug",
		File: FileConfig{
			Enabled:  true,
			Path:     logPath,
			Format:   "json",
			Rotation: RotationConfig{MaxSizeMB: 10, MaxAgeDays: 7, MaxBackups: 3},
		},
	}

	log, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Info("test file logging", zap.String("key", "value"))
	log.Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "test file logging")
	assert.Contains(t, string(content), "value")
}

func TestNew_NoOutputsEnabled(t *testing.T) {
	_, err := New(Config{Level: "info"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least one")
}

func TestNew_FileEnabledNoPath(t *testing.T) {
	_, err := New(Config{Level: "info", File: FileConfig{Enabled: true, Format: "json"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "file.path must be set")
}

func TestNew_TextFormatNoColorCodes(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test-text.log")

	cfg := Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: logPath, Format: "text"},
	}

	log, err := New(cfg)
	require.NoError(t, err)
	log.Warn("warning message")
	log.Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "\x1b[")
	assert.Contains(t, string(content), "WARN")
}

func TestNew_PerOutputLogLevels(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test-per-output.log")

	cfg := Config{
		Level:   "info",
		Console: ConsoleConfig{Enabled: true, Format: "console", Level: "warn"},
		File:    FileConfig{Enabled: true, Path: logPath, Format: "json", Level: "debug"},
	}

	log, err := New(cfg)
	require.NoError(t, err)

	log.Debug("debug message")
	log.Info("info message")
	log.Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "debug message")
	assert.Contains(t, string(content), "info message")
}

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		global   zapcore.Level
		expected zapcore.Level
	}{
		{"explicit debug", "debug", zap.InfoLevel, zap.DebugLevel},
		{"explicit error", "error", zap.InfoLevel, zap.ErrorLevel},
		{"falls back to global warn", "", zap.WarnLevel, zap.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveLevel(tt.output, tt.global))
		})
	}
}

func TestEnsureInfoLevelForShutdown(t *testing.T) {
	log, err := New(Config{
		Level:   "error",
		Console: ConsoleConfig{Enabled: true, Format: "console"},
	})
	require.NoError(t, err)
	assert.Equal(t, zap.ErrorLevel, log.consoleLevel.Level())

	log.EnsureInfoLevelForShutdown()
	assert.Equal(t, zap.InfoLevel, log.consoleLevel.Level())
}

func TestSwitchToConfiguredLevel(t *testing.T) {
	log, err := NewWithStartupFloor(Config{
		Level:   "error",
		Console: ConsoleConfig{Enabled: true, Format: "console"},
	})
	require.NoError(t, err)
	assert.Equal(t, zap.InfoLevel, log.consoleLevel.Level())

	log.SwitchToConfiguredLevel()
	assert.Equal(t, zap.ErrorLevel, log.consoleLevel.Level())
}

func TestDefault(t *testing.T) {
	log, err := Default()
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Debug("default logger test")
}
