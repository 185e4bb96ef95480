package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentweave/internal/tlsutil"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// ErrDrainTimeout 在关闭超时内仍有请求未完成时返回
var ErrDrainTimeout = errors.New("server drain timed out")

// Config 服务器配置
type Config struct {
	// 服务名称，用于日志区分 api / metrics
	Name string `yaml:"name" json:"name"`

	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 同步执行接口在请求内跑完整个工作流，需要足够长
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 等待进行中的请求完成的最长时间，超时后取消其上下文并强制关闭连接
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// TLS 证书，均非空时以 HTTPS 启动
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Name:            "api",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

func (c Config) tls() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Manager 管理单个 http.Server 的启动与分阶段关闭
//
// 所有请求上下文派生自 Manager 的基础上下文。关闭时先停止接收新连接并
// 等待进行中的请求（同步执行的工作流）完成；超过 ShutdownTimeout 后取消
// 基础上下文，让仍在运行的工作流与 WebSocket 流随之退出。
type Manager struct {
	server *http.Server
	config Config
	logger *zap.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	active     atomic.Int64

	errCh chan error

	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Name == "" {
		config.Name = "http"
	}

	m := &Manager{
		config: config,
		errCh:  make(chan error, 1),
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", config.Name)),
	}
	m.baseCtx, m.cancelBase = context.WithCancel(context.Background())

	m.server = &http.Server{
		Addr:              config.Addr,
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return m.baseCtx },
		ConnState:         m.trackConn,
	}
	if config.tls() {
		m.server.TLSConfig = tlsutil.ServerTLSConfig()
	}
	return m
}

// trackConn 统计活跃连接；被劫持的 WebSocket 连接不再计入
func (m *Manager) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		m.active.Add(1)
	case http.StateClosed, http.StateHijacked:
		m.active.Add(-1)
	}
}

// =============================================================================
// 🎯 生命周期
// =============================================================================

// Start 监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return errors.New("server is closed")
	case m.listener != nil:
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = ln

	serve := func() error { return m.server.Serve(ln) }
	if m.config.tls() {
		serve = func() error { return m.server.ServeTLS(ln, m.config.CertFile, m.config.KeyFile) }
	}
	m.logger.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", m.config.tls()),
	)

	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Shutdown 分阶段关闭：排空请求，超时后取消请求上下文并强制断开
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	defer m.cancelBase()

	m.logger.Info("draining connections", zap.Int64("active", m.active.Load()))

	drainCtx := ctx
	if m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}

	err := m.server.Shutdown(drainCtx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.logger.Warn("drain incomplete, cancelling in-flight requests", zap.Int64("active", m.active.Load()))
		m.cancelBase()
		if cerr := m.server.Close(); cerr != nil {
			m.logger.Warn("force close failed", zap.Error(cerr))
		}
		return fmt.Errorf("%w: %w", ErrDrainTimeout, err)
	}
	if err != nil {
		return err
	}

	m.logger.Info("server stopped")
	return nil
}

// Run 启动服务器并阻塞到 ctx 结束或服务异常退出，随后关闭
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(runErr))
	}

	// ctx 可能已取消，排空使用独立上下文，由 ShutdownTimeout 限时
	if err := m.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// =============================================================================
// 🔧 状态查询
// =============================================================================

// Addr 返回配置的监听地址
func (m *Manager) Addr() string {
	return m.config.Addr
}

// ListenAddr 返回实际监听地址，未启动时为空
func (m *Manager) ListenAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// ActiveConnections 返回未被劫持的活跃连接数
func (m *Manager) ActiveConnections() int64 {
	return m.active.Load()
}

// IsRunning 未关闭时返回 true
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
