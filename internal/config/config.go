// Package config loads and validates the proxy's YAML configuration and
// owns the live config behind an atomic pointer so hot reload is a
// build-and-swap, never an in-place mutation.
package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/edgecomet/imposter/internal/common/logger"
	"github.com/edgecomet/imposter/internal/common/yamlutil"
	"github.com/edgecomet/imposter/pkg/types"
)

// Load reads and strictly unmarshals the YAML file at path, then validates
// it; an invalid config fails startup.
func Load(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewProxyError(types.ErrConfigInvalid, "", fmt.Errorf("read config: %w", err))
	}
	var cfg types.Config
	if err := yamlutil.DecodeStrict(data, &cfg); err != nil {
		return nil, types.NewProxyError(types.ErrConfigInvalid, "", fmt.Errorf("parse config: %w", err))
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, types.NewProxyError(types.ErrConfigInvalid, "", err)
	}
	return &cfg, nil
}

// applyDefaults fills in defaults matching what a Mountebank-compatible
// deployment expects out of the box.
func applyDefaults(cfg *types.Config) {
	if cfg.Mode == "" {
		if cfg.Upstream != nil {
			cfg.Mode = types.ModeSidecar
		} else {
			cfg.Mode = types.ModeReverseProxy
		}
	}
	if cfg.Listen.Protocol == "" {
		cfg.Listen.Protocol = "http"
	}
	if cfg.ScriptEngine.Engine == "" {
		cfg.ScriptEngine.Engine = types.ScriptEngineLua
	}
	if cfg.ScriptPool.Workers <= 0 {
		cfg.ScriptPool.Workers = defaultScriptWorkers()
	}
	if cfg.ScriptPool.QueueSize <= 0 {
		cfg.ScriptPool.QueueSize = 1000
	}
	if cfg.ScriptPool.TimeoutMS <= 0 {
		cfg.ScriptPool.TimeoutMS = 5000
	}
	if cfg.DecisionCache.MaxSize <= 0 {
		cfg.DecisionCache.MaxSize = 10000
	}
	if cfg.ConnectionPool.MaxIdlePerHost <= 0 {
		cfg.ConnectionPool.MaxIdlePerHost = 100
	}
	if cfg.ConnectionPool.KeepaliveTimeoutSecs <= 0 {
		cfg.ConnectionPool.KeepaliveTimeoutSecs = 60
	}
	if cfg.ConnectionPool.IdleTimeoutSecs <= 0 {
		cfg.ConnectionPool.IdleTimeoutSecs = 90
	}
	if cfg.ConnectionPool.ConnectTimeoutSecs <= 0 {
		cfg.ConnectionPool.ConnectTimeoutSecs = 5
	}
	if cfg.FlowState.Backend == "" {
		cfg.FlowState.Backend = types.FlowStateBackendMemory
	}
	if cfg.Recording.Mode == "" {
		cfg.Recording.Mode = types.ProxyTransparent
	}
	if cfg.Recording.Persistence.Backend == "" {
		cfg.Recording.Persistence.Backend = types.PersistenceBackendFile
	}
	if cfg.Recording.Persistence.Compression == "" {
		cfg.Recording.Persistence.Compression = types.CompressionNone
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logger.LevelInfo
	}
	if !cfg.Logging.Console.Enabled && !cfg.Logging.File.Enabled {
		cfg.Logging.Console.Enabled = true
		cfg.Logging.Console.Format = logger.FormatConsole
	}
}

// LoggerConfig converts the YAML-facing LoggingConfig into the concrete
// logger.Config internal/common/logger expects, the one place this module
// bridges the two (pkg/types deliberately stays free of internal-package
// imports).
func LoggerConfig(cfg *types.Config) logger.Config {
	return logger.Config{
		Level: cfg.Logging.Level,
		Console: logger.ConsoleConfig{
			Enabled: cfg.Logging.Console.Enabled,
			Format:  cfg.Logging.Console.Format,
			Level:   cfg.Logging.Console.Level,
		},
		File: logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
			Format:  cfg.Logging.File.Format,
			Level:   cfg.Logging.File.Level,
			Rotation: logger.RotationConfig{
				MaxSizeMB:  cfg.Logging.File.Rotation.MaxSizeMB,
				MaxAgeDays: cfg.Logging.File.Rotation.MaxAgeDays,
				MaxBackups: cfg.Logging.File.Rotation.MaxBackups,
				Compress:   cfg.Logging.File.Rotation.Compress,
			},
		},
	}
}

func defaultScriptWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	if n > 16 {
		n = 16
	}
	return n
}

// Validate rejects configurations that must fail startup. A
// zero-include predicate_generators entry (no method/path/query and no
// header names) is rejected here rather than silently collapsing every
// request onto one signature.
func Validate(cfg *types.Config) error {
	if cfg.Listen.Port <= 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be between 1 and 65535, got %d", cfg.Listen.Port)
	}
	if cfg.Listen.Protocol == "https" {
		if cfg.Listen.TLS == nil || cfg.Listen.TLS.CertPath == "" || cfg.Listen.TLS.KeyPath == "" {
			return fmt.Errorf("listen.tls.certPath and keyPath are required when protocol is https")
		}
	}
	if cfg.Mode == types.ModeSidecar && cfg.Upstream == nil {
		return fmt.Errorf("mode sidecar requires a single upstream")
	}
	if cfg.Mode == types.ModeReverseProxy && len(cfg.Upstreams) == 0 {
		return fmt.Errorf("mode reverseProxy requires at least one entry in upstreams")
	}
	upstreamNames := map[string]bool{}
	for _, u := range cfg.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("every upstream in reverseProxy mode requires a name")
		}
		upstreamNames[u.Name] = true
	}
	for _, r := range cfg.Routing {
		if !upstreamNames[r.Upstream] {
			return fmt.Errorf("routing %q references unknown upstream %q", r.Name, r.Upstream)
		}
	}
	for _, r := range cfg.Rules {
		if r.ID == "" {
			return fmt.Errorf("every rule requires an id")
		}
	}
	switch cfg.ScriptEngine.Engine {
	case types.ScriptEngineLua, types.ScriptEngineRhai, types.ScriptEngineJavaScript:
	default:
		return fmt.Errorf("unknown scriptEngine.engine %q", cfg.ScriptEngine.Engine)
	}
	switch cfg.Recording.Mode {
	case types.ProxyTransparent, types.ProxyOnce, types.ProxyAlways:
	default:
		return fmt.Errorf("unknown recording.mode %q", cfg.Recording.Mode)
	}
	if err := validatePredicateGenerators(cfg.Recording.PredicateGenerators); err != nil {
		return err
	}
	if cfg.Recording.Persistence.Backend == types.PersistenceBackendFile && cfg.Recording.Persistence.Path == "" {
		return fmt.Errorf("recording.persistence.path is required for the file backend")
	}
	if cfg.Recording.Persistence.Backend == types.PersistenceBackendRedis && cfg.Recording.Persistence.RedisURL == "" {
		return fmt.Errorf("recording.persistence.redisUrl is required for the redis backend")
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535 when metrics are enabled, got %d", cfg.Metrics.Port)
		}
		if cfg.Metrics.Port == cfg.Listen.Port {
			return fmt.Errorf("metrics.port must differ from listen.port, both %d", cfg.Metrics.Port)
		}
	}
	return nil
}

func validatePredicateGenerators(gens []types.PredicateGenerator) error {
	if len(gens) == 0 {
		return nil
	}
	for _, g := range gens {
		if !g.Method && !g.Path && !g.Query && len(g.Headers) == 0 {
			return fmt.Errorf("recording.predicateGenerators entry has no include flags set (method/path/query/headers all empty); this would collapse all traffic onto a single signature, so it is rejected at load rather than accepted silently")
		}
	}
	return nil
}
