package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/BaSui01/agentweave/api/handlers"
	"github.com/BaSui01/agentweave/config"
	"github.com/BaSui01/agentweave/internal/audit"
	"github.com/BaSui01/agentweave/internal/cache"
	"github.com/BaSui01/agentweave/internal/database"
	"github.com/BaSui01/agentweave/internal/metrics"
	"github.com/BaSui01/agentweave/internal/runner"
	"github.com/BaSui01/agentweave/internal/server"
	"github.com/BaSui01/agentweave/internal/store"
	"github.com/BaSui01/agentweave/internal/telemetry"
	"github.com/BaSui01/agentweave/internal/tlsutil"
	"github.com/BaSui01/agentweave/types"
	"github.com/BaSui01/agentweave/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装工作流引擎及其依赖，并管理 API 与 Metrics 两个端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers

	db    *database.PoolManager
	cache *cache.Manager

	engine  *workflow.Engine
	hub     *workflow.EventHub
	handler http.Handler
}

// NewServer 按配置初始化全部组件；ctx 结束时后台清理任务随之退出
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}

	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// =============================================================================
// 🚀 初始化流程
// =============================================================================

func (s *Server) init(ctx context.Context) error {
	// 1. 遥测与指标
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("agentweave", s.registry, s.logger)

	// 2. 外部依赖
	if err := s.openDatabase(); err != nil {
		return err
	}
	if err := s.openRedis(); err != nil {
		return err
	}

	// 3. 引擎
	wfStore, err := s.buildStore()
	if err != nil {
		return err
	}
	registry := workflow.NewRegistry(wfStore, s.buildDirectory(), s.buildAudit(), s.logger)

	agentRunner, err := s.buildRunner()
	if err != nil {
		return err
	}

	recorders := workflow.MultiMetrics{s.collector}
	if mp := s.telemetry.MeterProvider(); mp != nil {
		rec, err := telemetry.NewRecorder(mp)
		if err != nil {
			return fmt.Errorf("create otel recorder: %w", err)
		}
		recorders = append(recorders, rec)
	}

	s.hub = workflow.NewEventHub(s.cfg.Engine.StreamBuffer)
	s.engine = workflow.NewEngine(registry, agentRunner, workflow.EngineConfig{
		RetryBaseDelay: s.cfg.Engine.RetryBaseDelay,
		MaxDepth:       s.cfg.Engine.MaxDepth,
		HistorySize:    s.cfg.Engine.HistorySize,
	}, s.logger,
		workflow.WithMetrics(recorders),
		workflow.WithEventHub(s.hub),
	)

	// 4. HTTP
	s.handler = s.buildHandler(ctx)

	s.logger.Info("server initialized",
		zap.String("store", s.cfg.Store.Driver),
		zap.String("agent_directory", s.cfg.Store.AgentDirectory),
		zap.Strings("audit_sinks", s.cfg.Audit.Sinks),
		zap.Bool("auth_enabled", s.cfg.Auth.Enabled),
	)
	return nil
}

func (s *Server) needsDatabase() bool {
	return s.cfg.Store.Driver == config.StoreDatabase ||
		s.cfg.Store.AgentDirectory == config.DirectoryDatabase ||
		slices.Contains(s.cfg.Audit.Sinks, config.AuditSinkDatabase)
}

func (s *Server) needsRedis() bool {
	return s.cfg.Store.Driver == config.StoreRedis ||
		slices.Contains(s.cfg.Audit.Sinks, config.AuditSinkRedis)
}

// openDatabase 打开数据库连接池，按需执行 AutoMigrate 并注册连接池指标
func (s *Server) openDatabase() error {
	if !s.needsDatabase() {
		return nil
	}

	dbCfg := s.cfg.Database
	pool := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}

	pm, err := database.Open(database.Config{Driver: dbCfg.Driver, DSN: dbCfg.DSN(), Pool: pool}, s.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.db = pm

	if s.cfg.Store.AutoMigrate {
		if err := store.AutoMigrate(pm.DB()); err != nil {
			return fmt.Errorf("auto-migrate store: %w", err)
		}
		if slices.Contains(s.cfg.Audit.Sinks, config.AuditSinkDatabase) {
			if err := audit.NewGormSink(pm.DB()).AutoMigrate(); err != nil {
				return fmt.Errorf("auto-migrate audit: %w", err)
			}
		}
		s.logger.Info("database schema migrated")
	}

	if sqlDB, err := pm.DB().DB(); err == nil {
		if err := s.collector.RegisterDBStats(sqlDB, dbCfg.Driver); err != nil {
			s.logger.Warn("failed to register database metrics", zap.Error(err))
		}
	}
	return nil
}

func (s *Server) openRedis() error {
	if !s.needsRedis() {
		return nil
	}

	rc := s.cfg.Redis
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = rc.Addr
	cacheCfg.Password = rc.Password
	cacheCfg.DB = rc.DB
	cacheCfg.TLS = rc.TLS
	cacheCfg.TLSCAFile = rc.TLSCAFile
	if rc.KeyPrefix != "" {
		cacheCfg.KeyPrefix = rc.KeyPrefix
	}
	if rc.PoolSize > 0 {
		cacheCfg.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		cacheCfg.MinIdleConns = rc.MinIdleConns
	}
	if rc.HealthCheckInterval > 0 {
		cacheCfg.HealthCheckInterval = rc.HealthCheckInterval
	}

	cm, err := cache.NewManager(cacheCfg, s.logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	s.cache = cm
	if err := s.collector.RegisterRedisPool(cm.PoolStats); err != nil {
		s.logger.Warn("failed to register redis pool metrics", zap.Error(err))
	}
	return nil
}

// buildStore 按驱动选择工作流存储，并统一包装存储指标
func (s *Server) buildStore() (workflow.Store, error) {
	var st workflow.Store
	switch s.cfg.Store.Driver {
	case config.StoreMemory:
		st = workflow.NewMemoryStore()
	case config.StoreDatabase:
		st = store.NewGormStore(s.db.DB(), s.logger)
	case config.StoreRedis:
		st = store.NewRedisStore(s.cache, s.logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.cfg.Store.Driver)
	}
	return store.NewInstrumented(st, s.cfg.Store.Driver, s.collector), nil
}

// buildDirectory 返回 nil 表示不校验 Agent 引用
func (s *Server) buildDirectory() workflow.AgentLookup {
	switch s.cfg.Store.AgentDirectory {
	case config.DirectoryStatic:
		dir := workflow.NewStaticAgentDirectory()
		dir.Register(workflow.SharedOwner, s.cfg.Store.SharedAgents...)
		return dir
	case config.DirectoryDatabase:
		return store.NewGormAgentDirectory(s.db.DB())
	default:
		return nil
	}
}

// buildAudit 返回 nil 表示丢弃审计事件
func (s *Server) buildAudit() workflow.AuditSink {
	var sinks audit.MultiSink
	for _, name := range s.cfg.Audit.Sinks {
		switch name {
		case config.AuditSinkLog:
			sinks = append(sinks, audit.NewLoggerSink(s.logger))
		case config.AuditSinkRedis:
			sinks = append(sinks, audit.NewRedisStreamSink(s.cache, s.cfg.Audit.Stream, s.cfg.Audit.StreamMaxLen))
		case config.AuditSinkDatabase:
			sinks = append(sinks, audit.NewGormSink(s.db.DB()))
		}
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

// buildRunner 创建远程 Agent 执行器；未配置地址时所有调用以服务不可用失败
func (s *Server) buildRunner() (workflow.AgentRunner, error) {
	rc := s.cfg.Runner
	if rc.Endpoint == "" {
		s.logger.Warn("runner endpoint not configured, workflow executions will fail")
		return workflow.AgentRunnerFunc(func(context.Context, string, string, workflow.RunContext) (*workflow.AgentRunResponse, error) {
			return nil, types.NewError(types.ErrServiceUnavailable, "agent runner is not configured")
		}), nil
	}

	r, err := runner.New(runner.Config{
		Endpoint:         rc.Endpoint,
		Timeout:          rc.Timeout,
		RateLimitRPS:     rc.RateLimitRPS,
		RateLimitBurst:   rc.RateLimitBurst,
		APIKey:           rc.APIKey,
		MaxResponseBytes: rc.MaxResponseBytes,
		MaxConnsPerHost:  rc.MaxConns,
		TLS: tlsutil.ClientFiles{
			CAFile:   rc.CAFile,
			CertFile: rc.CertFile,
			KeyFile:  rc.KeyFile,
		},
	}, s.logger, runner.WithRecorder(s.collector))
	if err != nil {
		return nil, fmt.Errorf("create runner: %w", err)
	}
	if rc.BreakerThreshold > 0 {
		return runner.NewBreaker(r, runner.BreakerConfig{
			FailureThreshold: rc.BreakerThreshold,
			RecoveryTimeout:  rc.BreakerRecovery,
		}, s.logger), nil
	}
	return r, nil
}

// =============================================================================
// 🌐 HTTP 路由与中间件
// =============================================================================

func (s *Server) buildHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(Version, s.logger).WithRunningCounter(s.engine.Guard())
	// 只服务审计的依赖失败时降级，不影响工作流读写
	if s.db != nil {
		check := handlers.NewPingCheck("database", s.db.Ping)
		if s.cfg.Store.Driver == config.StoreDatabase || s.cfg.Store.AgentDirectory == config.DirectoryDatabase {
			health.RegisterCheck(check)
		} else {
			health.RegisterOptionalCheck(check)
		}
	}
	if s.cache != nil {
		check := handlers.NewPingCheck("redis", s.cache.Ping)
		if s.cfg.Store.Driver == config.StoreRedis {
			health.RegisterCheck(check)
		} else {
			health.RegisterOptionalCheck(check)
		}
	}
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(BuildTime, GitCommit))

	handlers.NewWorkflowHandler(s.engine, s.hub, s.logger).
		WithDefaultMaxRetries(s.cfg.Engine.DefaultMaxRetries).
		RegisterRoutes(mux)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins, s.cfg.Auth.OwnerHeader),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		MaxBodyBytes(s.cfg.Server.MaxBodyBytes),
		OwnerAuth(s.cfg.Auth, s.logger),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// Handler 返回带完整中间件链的 API 处理器
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Engine 返回工作流引擎
func (s *Server) Engine() *workflow.Engine {
	return s.engine
}

// MetricsHandler 返回 Prometheus 抓取处理器
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// =============================================================================
// 🛑 运行与关闭
// =============================================================================

// Run 启动 API 与 Metrics 服务并阻塞，直到 ctx 结束或任一服务异常退出
func (s *Server) Run(ctx context.Context) error {
	sc := s.cfg.Server

	api := server.NewManager(s.handler, server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		CertFile:        sc.TLSCertFile,
		KeyFile:         sc.TLSKeyFile,
	}, s.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Run(ctx) })

	if sc.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.MetricsHandler())
		metricsSrv := server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
			ReadTimeout:     sc.ReadTimeout,
			WriteTimeout:    sc.ReadTimeout,
			ShutdownTimeout: sc.ShutdownTimeout,
		}, s.logger)
		g.Go(func() error { return metricsSrv.Run(ctx) })
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", sc.HTTPPort),
		zap.Int("metrics_port", sc.MetricsPort),
		zap.Bool("tls", sc.TLSCertFile != ""),
	)
	return g.Wait()
}

// Close 释放数据库、Redis 与遥测资源
func (s *Server) Close() error {
	var errs []error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	s.logger.Info("Graceful shutdown completed")
	return errors.Join(errs...)
}
