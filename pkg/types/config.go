package types

// Config is the top-level configuration tree. Loaded once at startup and
// on every hot reload; never mutated in place.
type Config struct {
	Listen   ListenConfig  `yaml:"listen" json:"listen"`
	Metrics  MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Mode     string        `yaml:"mode,omitempty" json:"mode,omitempty"` // "sidecar" | "reverseProxy"
	Upstream *Upstream     `yaml:"upstream,omitempty" json:"upstream,omitempty"`

	Upstreams []Upstream `yaml:"upstreams,omitempty" json:"upstreams,omitempty"`
	Routing   []Route    `yaml:"routing,omitempty" json:"routing,omitempty"`

	Rules        []Rule       `yaml:"rules,omitempty" json:"rules,omitempty"`
	ScriptEngine ScriptEngine `yaml:"scriptEngine,omitempty" json:"scriptEngine,omitempty"`
	ScriptRules  []ScriptRule `yaml:"scriptRules,omitempty" json:"scriptRules,omitempty"`

	FlowState FlowStateConfig `yaml:"flowState,omitempty" json:"flowState,omitempty"`

	ConnectionPool ConnectionPoolConfig `yaml:"connectionPool,omitempty" json:"connectionPool,omitempty"`
	ScriptPool     ScriptPoolConfig     `yaml:"scriptPool,omitempty" json:"scriptPool,omitempty"`
	DecisionCache  DecisionCacheConfig  `yaml:"decisionCache,omitempty" json:"decisionCache,omitempty"`

	Recording RecordingConfig `yaml:"recording,omitempty" json:"recording,omitempty"`

	ClientIP *ClientIPConfig `yaml:"clientIp,omitempty" json:"clientIp,omitempty"`

	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// LoggingConfig mirrors internal/common/logger.Config's shape so the whole
// proxy configuration round-trips through one strict YAML document; it is
// converted to a logger.Config by cmd/imposter rather than imported
// directly, keeping this package free of internal-package dependencies.
type LoggingConfig struct {
	Level   string              `yaml:"level,omitempty" json:"level,omitempty"`
	Console LoggingConsoleConfig `yaml:"console,omitempty" json:"console,omitempty"`
	File    LoggingFileConfig    `yaml:"file,omitempty" json:"file,omitempty"`
}

type LoggingConsoleConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Format  string `yaml:"format,omitempty" json:"format,omitempty"`
	Level   string `yaml:"level,omitempty" json:"level,omitempty"`
}

type LoggingFileConfig struct {
	Enabled  bool                   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Path     string                 `yaml:"path,omitempty" json:"path,omitempty"`
	Format   string                 `yaml:"format,omitempty" json:"format,omitempty"`
	Level    string                 `yaml:"level,omitempty" json:"level,omitempty"`
	Rotation LoggingRotationConfig  `yaml:"rotation,omitempty" json:"rotation,omitempty"`
}

type LoggingRotationConfig struct {
	MaxSizeMB  int  `yaml:"maxSizeMb,omitempty" json:"maxSizeMb,omitempty"`
	MaxAgeDays int  `yaml:"maxAgeDays,omitempty" json:"maxAgeDays,omitempty"`
	MaxBackups int  `yaml:"maxBackups,omitempty" json:"maxBackups,omitempty"`
	Compress   bool `yaml:"compress,omitempty" json:"compress,omitempty"`
}

const (
	ModeSidecar      = "sidecar"
	ModeReverseProxy = "reverseProxy"
)

// ListenConfig configures the main proxy listener.
type ListenConfig struct {
	Port     int         `yaml:"port" json:"port"`
	Workers  int         `yaml:"workers,omitempty" json:"workers,omitempty"`
	Protocol string      `yaml:"protocol,omitempty" json:"protocol,omitempty"` // "http" | "https"
	TLS      *TLSConfig  `yaml:"tls,omitempty" json:"tls,omitempty"`
}

type TLSConfig struct {
	CertPath string `yaml:"certPath" json:"certPath"`
	KeyPath  string `yaml:"keyPath" json:"keyPath"`
}

// MetricsConfig configures the Prometheus exposition endpoint. Metrics
// always run on a separate listener from the main proxy port.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Port    int    `yaml:"port,omitempty" json:"port,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Upstream names one origin this proxy can forward to.
type Upstream struct {
	Name          string         `yaml:"name,omitempty" json:"name,omitempty"`
	URL           string         `yaml:"url" json:"url"`
	HealthCheck   *HealthCheck   `yaml:"healthCheck,omitempty" json:"healthCheck,omitempty"`
	TLSSkipVerify bool           `yaml:"tlsSkipVerify,omitempty" json:"tlsSkipVerify,omitempty"`
}

type HealthCheck struct {
	Path            string `yaml:"path,omitempty" json:"path,omitempty"`
	IntervalSeconds int64  `yaml:"intervalSeconds,omitempty" json:"intervalSeconds,omitempty"`
	TimeoutSeconds  int64  `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// Route is one entry of the reverse-proxy routing table. Routes are
// evaluated in declaration order; the first match selects the upstream by
// name.
type Route struct {
	Name     string      `yaml:"name" json:"name"`
	Match    RouteMatch  `yaml:"match" json:"match"`
	Upstream string      `yaml:"upstream" json:"upstream"`
}

type RouteMatch struct {
	// Host supports exact match or a wildcard with a leading "*.".
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	PathPrefix string `yaml:"pathPrefix,omitempty" json:"pathPrefix,omitempty"`
	PathExact  string `yaml:"pathExact,omitempty" json:"pathExact,omitempty"`
	PathRegex  string `yaml:"pathRegex,omitempty" json:"pathRegex,omitempty"`
	Headers    []KV   `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// ScriptEngine names the pluggable script evaluator. Only "lua" is
// shipped; "rhai"/"javascript" are accepted at config parse time but fail
// startup with ScriptCompileFailure since no engine is registered for
// them.
type ScriptEngine struct {
	Engine string `yaml:"engine,omitempty" json:"engine,omitempty"`
}

const (
	ScriptEngineLua        = "lua"
	ScriptEngineRhai       = "rhai"
	ScriptEngineJavaScript = "javascript"
)

// FlowStateConfig configures the key-counter map scripts read/write.
type FlowStateConfig struct {
	Backend    string      `yaml:"backend,omitempty" json:"backend,omitempty"` // "memory" | "redis"
	TTLSeconds int64       `yaml:"ttlSeconds,omitempty" json:"ttlSeconds,omitempty"`
	Redis      *RedisRef   `yaml:"redis,omitempty" json:"redis,omitempty"`
}

const (
	FlowStateBackendMemory = "memory"
	FlowStateBackendRedis  = "redis"
)

type RedisRef struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

// ConnectionPoolConfig bounds upstream connection reuse.
type ConnectionPoolConfig struct {
	MaxIdlePerHost       int   `yaml:"maxIdlePerHost,omitempty" json:"maxIdlePerHost,omitempty"`
	IdleTimeoutSecs      int64 `yaml:"idleTimeoutSecs,omitempty" json:"idleTimeoutSecs,omitempty"`
	KeepaliveTimeoutSecs int64 `yaml:"keepaliveTimeoutSecs,omitempty" json:"keepaliveTimeoutSecs,omitempty"`
	ConnectTimeoutSecs   int64 `yaml:"connectTimeoutSecs,omitempty" json:"connectTimeoutSecs,omitempty"`
}

// ScriptPoolConfig bounds the script execution pool.
type ScriptPoolConfig struct {
	Workers   int `yaml:"workers,omitempty" json:"workers,omitempty"`
	QueueSize int `yaml:"queueSize,omitempty" json:"queueSize,omitempty"`
	TimeoutMS int `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
}

// DecisionCacheConfig configures the fingerprint->decision memoization.
type DecisionCacheConfig struct {
	Enabled    bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	MaxSize    int   `yaml:"maxSize,omitempty" json:"maxSize,omitempty"`
	TTLSeconds int64 `yaml:"ttlSeconds,omitempty" json:"ttlSeconds,omitempty"`
	Shards     int   `yaml:"shards,omitempty" json:"shards,omitempty"`
}

// RecordingConfig configures the recording/replay store.
type RecordingConfig struct {
	Mode              ProxyMode            `yaml:"mode,omitempty" json:"mode,omitempty"`
	AddWaitBehavior   bool                  `yaml:"addWaitBehavior,omitempty" json:"addWaitBehavior,omitempty"`
	PredicateGenerators []PredicateGenerator `yaml:"predicateGenerators,omitempty" json:"predicateGenerators,omitempty"`
	Persistence       PersistenceConfig     `yaml:"persistence,omitempty" json:"persistence,omitempty"`
}

type PersistenceConfig struct {
	Backend          string    `yaml:"backend,omitempty" json:"backend,omitempty"` // "file" | "redis"
	Path             string    `yaml:"path,omitempty" json:"path,omitempty"`
	RedisURL         string    `yaml:"redisUrl,omitempty" json:"redisUrl,omitempty"`
	Compression      string    `yaml:"compression,omitempty" json:"compression,omitempty"` // "none" | "snappy" | "lz4"
	CompressionMinBytes int    `yaml:"compressionMinBytes,omitempty" json:"compressionMinBytes,omitempty"`
}

const (
	PersistenceBackendFile  = "file"
	PersistenceBackendRedis = "redis"
)

const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

type ClientIPConfig struct {
	Headers []string `yaml:"headers,omitempty" json:"headers,omitempty"`
}
