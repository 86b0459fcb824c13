// Command imposter is the proxy's process entry point: parse flags, load
// and validate configuration, build the compiled pipeline, start the
// listener(s), and shut down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/imposter/internal/cache"
	"github.com/edgecomet/imposter/internal/common/logger"
	"github.com/edgecomet/imposter/internal/common/metricsserver"
	commonredis "github.com/edgecomet/imposter/internal/common/redis"
	"github.com/edgecomet/imposter/internal/config"
	"github.com/edgecomet/imposter/internal/fingerprint"
	"github.com/edgecomet/imposter/internal/flowstate"
	"github.com/edgecomet/imposter/internal/metrics"
	"github.com/edgecomet/imposter/internal/netutil"
	"github.com/edgecomet/imposter/internal/pipeline"
	"github.com/edgecomet/imposter/internal/recording"
	"github.com/edgecomet/imposter/internal/rules"
	"github.com/edgecomet/imposter/internal/script"
	"github.com/edgecomet/imposter/pkg/types"
)

func main() {
	configPath := flag.String("config", "configs/imposter.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listen.port from the config file")
	verbose := flag.Bool("verbose", false, "force debug-level console logging regardless of config")
	flag.Parse()

	initialLogger, err := logger.Default()
	if err != nil {
		log.Fatalf("failed to create startup logger: %v", err)
	}
	initialLogger.Info("starting imposter", zap.String("configPath", *configPath))

	cfg, err := config.Load(*configPath)
	if err != nil {
		initialLogger.Fatal("failed to load config", zap.Error(err))
	}
	if *port > 0 {
		cfg.Listen.Port = *port
	}

	loggerCfg := config.LoggerConfig(cfg)
	if *verbose {
		loggerCfg.Level = logger.LevelDebug
		loggerCfg.Console.Level = logger.LevelDebug
	}
	dynamicLogger, err := logger.NewWithStartupFloor(loggerCfg)
	if err != nil {
		initialLogger.Fatal("failed to build configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()
	log := dynamicLogger.Logger

	if err := run(cfg, log, dynamicLogger); err != nil {
		log.Fatal("fatal startup error", zap.Error(err))
	}
}

func run(cfg *types.Config, log *zap.Logger, dynamicLogger *logger.DynamicLogger) error {
	registry := prometheus.NewRegistry()
	// "rift" is the exposition namespace scrapers key on (rift_requests_total
	// and friends); the binary name stays imposter.
	promMetrics := metrics.New("rift", registry)

	metricsServer, metricsErrors := metricsserver.Start(
		cfg.Metrics.Enabled, metricsAddr(cfg.Metrics.Port), cfg.Metrics.Path, promMetrics, log,
	)

	flowStore, err := buildFlowState(cfg, log)
	if err != nil {
		return fmt.Errorf("building flow state: %w", err)
	}

	scriptEngine, err := buildScriptEngine(cfg)
	if err != nil {
		return fmt.Errorf("building script engine: %w", err)
	}

	evaluator, warnings := rules.NewEvaluator(cfg.Rules)
	for _, w := range warnings {
		log.Warn("rule predicate compiled with a degraded field", zap.Error(w))
	}

	var scriptEvaluator *rules.ScriptEvaluator
	var scriptPool *script.Pool
	if len(cfg.ScriptRules) > 0 {
		if scriptEngine == nil {
			return fmt.Errorf("scriptRules configured but scriptEngine %q is not available", cfg.ScriptEngine.Engine)
		}
		var sWarnings []error
		scriptEvaluator, sWarnings, err = rules.NewScriptEvaluator(cfg.ScriptRules, scriptEngine)
		if err != nil {
			return fmt.Errorf("compiling script rules: %w", err)
		}
		for _, w := range sWarnings {
			log.Warn("script rule predicate compiled with a degraded field", zap.Error(w))
		}
		scriptPool = script.NewPool(scriptEngine, cfg.ScriptPool.Workers, cfg.ScriptPool.QueueSize,
			time.Duration(cfg.ScriptPool.TimeoutMS)*time.Millisecond)
	}

	decisionCache, err := cache.New(cache.Config{
		Enabled:    cfg.DecisionCache.Enabled,
		MaxSize:    cfg.DecisionCache.MaxSize,
		TTLSeconds: cfg.DecisionCache.TTLSeconds,
		Shards:     cfg.DecisionCache.Shards,
	})
	if err != nil {
		return fmt.Errorf("building decision cache: %w", err)
	}

	recordingEngine, recordingStore, err := buildRecording(cfg, log)
	if err != nil {
		return fmt.Errorf("building recording store: %w", err)
	}
	if recordingStore != nil {
		if err := recordingStore.Load(context.Background()); err != nil {
			log.Warn("recording store failed to load persisted state, starting empty", zap.Error(err))
		}
	}

	router, forwarder, err := buildRoutingAndForwarding(cfg)
	if err != nil {
		return fmt.Errorf("building routing/forwarding: %w", err)
	}

	clientIPHeaders := []string{"x-forwarded-for", "x-real-ip"}
	if cfg.ClientIP != nil && len(cfg.ClientIP.Headers) > 0 {
		clientIPHeaders = cfg.ClientIP.Headers
	}

	handler := pipeline.NewHandler(pipeline.Handler{
		Router:              router,
		Forwarder:           forwarder,
		Evaluator:           evaluator,
		ScriptEvaluator:     scriptEvaluator,
		ScriptPool:          scriptPool,
		FlowState:           flowStore,
		Cache:               decisionCache,
		FPConfig:            fingerprint.Config{HeaderNames: fingerprintHeaderNames(cfg)},
		RecordingEngine:     recordingEngine,
		RecordingGenerators: cfg.Recording.PredicateGenerators,
		AddWaitBehavior:     cfg.Recording.AddWaitBehavior,
		Metrics:             promMetrics,
		Logger:              log,
		ClientIPHeaders:     clientIPHeaders,
		ForwardTimeout:      time.Duration(cfg.ConnectionPool.ConnectTimeoutSecs) * time.Second,
	})

	syncStop := make(chan struct{})
	go syncCacheMetrics(decisionCache, promMetrics, syncStop)

	var tlsListener net.Listener
	if cfg.Listen.Protocol == "https" {
		tlsListener, err = netutil.CreateTLSListener(listenAddr(cfg.Listen.Port), cfg.Listen.TLS.CertPath, cfg.Listen.TLS.KeyPath)
		if err != nil {
			return fmt.Errorf("creating TLS listener: %w", err)
		}
	}

	keepalive := time.Duration(cfg.ConnectionPool.KeepaliveTimeoutSecs) * time.Second
	serverErrors := make(chan error, 1)
	httpServer := &fasthttp.Server{
		Handler:                      handler.Handle,
		Name:                         "imposter",
		IdleTimeout:                  keepalive,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
	}
	lifecycle := &serverLifecycle{server: httpServer, listener: tlsListener, name: "imposter", address: listenAddr(cfg.Listen.Port), logger: log}
	lifecycle.StartWithErrorChan(serverErrors)

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrors:
		return fmt.Errorf("listener failed to start: %w", err)
	default:
	}
	log.Info("imposter started",
		zap.String("mode", cfg.Mode), zap.String("protocol", cfg.Listen.Protocol),
		zap.String("addr", listenAddr(cfg.Listen.Port)), zap.Int("rules", len(cfg.Rules)),
		zap.Int("scriptRules", len(cfg.ScriptRules)))

	dynamicLogger.SwitchToConfiguredLevel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		dynamicLogger.EnsureInfoLevelForShutdown()
		log.Info("shutdown signal received")
	case err := <-serverErrors:
		dynamicLogger.EnsureInfoLevelForShutdown()
		log.Error("listener failed after startup", zap.Error(err))
	case err := <-metricsErrors:
		dynamicLogger.EnsureInfoLevelForShutdown()
		log.Error("metrics listener failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lifecycle.Shutdown(shutdownCtx)
	}()
	wg.Wait()

	close(syncStop)
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", zap.Error(err))
	}
	if scriptPool != nil {
		scriptPool.Close()
	}
	if recordingStore != nil {
		if err := recordingStore.Persist(shutdownCtx); err != nil {
			log.Error("recording store flush failed", zap.Error(err))
		}
	}

	log.Info("imposter stopped")
	return nil
}

// syncCacheMetrics mirrors the cache's atomic eviction/expiration counters
// and current size into the Prometheus gauges on a fixed cadence; hits and
// misses are recorded inline on the request path.
func syncCacheMetrics(c *cache.Cache, m *metrics.Metrics, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.SyncCacheMetrics(
				atomic.LoadInt64(&c.Metrics.Evictions),
				atomic.LoadInt64(&c.Metrics.Expirations),
				c.Size(),
			)
		}
	}
}

func listenAddr(port int) string  { return fmt.Sprintf(":%d", port) }
func metricsAddr(port int) string { return fmt.Sprintf(":%d", port) }

// fingerprintHeaderNames unions every recording.predicateGenerators config header
// list into the set of headers the decision-cache fingerprint considers:
// only headers named in the active predicate-generator configuration
// contribute.
func fingerprintHeaderNames(cfg *types.Config) []string {
	seen := map[string]bool{}
	var names []string
	for _, g := range cfg.Recording.PredicateGenerators {
		for _, h := range g.Headers {
			if !seen[h] {
				seen[h] = true
				names = append(names, h)
			}
		}
	}
	return names
}

func buildFlowState(cfg *types.Config, log *zap.Logger) (flowstate.Store, error) {
	switch cfg.FlowState.Backend {
	case types.FlowStateBackendRedis:
		if cfg.FlowState.Redis == nil {
			return nil, fmt.Errorf("flowState.backend is redis but flowState.redis is not set")
		}
		client, err := commonredis.NewClient(commonredis.Config{
			Addr: cfg.FlowState.Redis.Addr, Password: cfg.FlowState.Redis.Password, DB: cfg.FlowState.Redis.DB,
		}, log)
		if err != nil {
			return nil, err
		}
		return flowstate.NewRedisStore(client, "imposter:flow:"), nil
	default:
		return flowstate.NewMemoryStore(), nil
	}
}

func buildScriptEngine(cfg *types.Config) (script.ScriptEngine, error) {
	switch cfg.ScriptEngine.Engine {
	case types.ScriptEngineLua, "":
		return script.NewLuaEngine(), nil
	default:
		// Rhai/JavaScript are accepted at parse time as pluggable evaluators
		// behind a fixed interface, but no engine is registered for them in
		// this build.
		return nil, nil
	}
}

func buildRecording(cfg *types.Config, log *zap.Logger) (*recording.Engine, recording.Store, error) {
	var store recording.Store
	switch cfg.Recording.Persistence.Backend {
	case types.PersistenceBackendRedis:
		opts, err := goredis.ParseURL(cfg.Recording.Persistence.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing recording.persistence.redisUrl: %w", err)
		}
		client, err := commonredis.NewClient(commonredis.Config{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}, log)
		if err != nil {
			return nil, nil, err
		}
		store = recording.NewRedisStore(client, "imposter:recording:", cfg.Recording.Persistence.Compression, cfg.Recording.Persistence.CompressionMinBytes)
	default:
		store = recording.NewFileStore(cfg.Recording.Persistence.Path, cfg.Recording.Persistence.Compression, cfg.Recording.Persistence.CompressionMinBytes, log)
	}
	return recording.NewEngine(cfg.Recording.Mode, store), store, nil
}

func buildRoutingAndForwarding(cfg *types.Config) (*pipeline.Router, *pipeline.Forwarder, error) {
	if cfg.Mode == types.ModeSidecar {
		router, err := pipeline.NewRouter(cfg.Upstream, nil, nil)
		if err != nil {
			return nil, nil, err
		}
		forwarder, err := pipeline.ForwarderForSidecar(*cfg.Upstream, cfg.ConnectionPool)
		if err != nil {
			return nil, nil, err
		}
		return router, forwarder, nil
	}
	router, err := pipeline.NewRouter(nil, cfg.Upstreams, cfg.Routing)
	if err != nil {
		return nil, nil, err
	}
	forwarder, err := pipeline.NewForwarder(cfg.Upstreams, cfg.ConnectionPool)
	if err != nil {
		return nil, nil, err
	}
	return router, forwarder, nil
}

type serverLifecycle struct {
	server   *fasthttp.Server
	listener net.Listener
	name     string
	address  string
	logger   *zap.Logger
}

func (s *serverLifecycle) StartWithErrorChan(errChan chan<- error) {
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe(s.address)
		}
		if err != nil {
			s.logger.Error("server error", zap.String("name", s.name), zap.Error(err))
			if errChan != nil {
				errChan <- fmt.Errorf("%s server failed: %w", s.name, err)
			}
		}
	}()
	s.logger.Info("server started", zap.String("name", s.name), zap.String("address", s.address))
}

func (s *serverLifecycle) Shutdown(ctx context.Context) {
	s.logger.Info("shutting down server", zap.String("name", s.name))
	if err := s.server.ShutdownWithContext(ctx); err != nil {
		s.logger.Error("server shutdown error", zap.String("name", s.name), zap.Error(err))
	}
}
