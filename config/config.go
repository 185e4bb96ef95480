package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// 🎯 配置结构
// =============================================================================

// Config 是 AgentWeave 服务的完整配置
//
// yaml 标签对应配置文件中的键；env 标签拼接为环境变量名，
// 例如 Engine.MaxDepth 对应 AGENTWEAVE_ENGINE_MAX_DEPTH。
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Audit     AuditConfig     `yaml:"audit" env:"AUDIT"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Runner    RunnerConfig    `yaml:"runner" env:"RUNNER"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig API 与指标端口
type ServerConfig struct {
	HTTPPort    int `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"` // 0 关闭独立指标端口

	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 同步执行接口在请求内跑完整个工作流
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// 按客户端限流，RateLimitRPS 为 0 时不限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	MaxBodyBytes       int64    `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`

	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// EngineConfig 工作流引擎参数
type EngineConfig struct {
	// 第 n 次重试前等待 n * RetryBaseDelay
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	MaxDepth          int           `yaml:"max_depth" env:"MAX_DEPTH"`
	DefaultMaxRetries int           `yaml:"default_max_retries" env:"DEFAULT_MAX_RETRIES"`
	HistorySize       int           `yaml:"history_size" env:"HISTORY_SIZE"`
	StreamBuffer      int           `yaml:"stream_buffer" env:"STREAM_BUFFER"`
}

// StoreConfig 工作流存储与 Agent 目录
type StoreConfig struct {
	Driver         string   `yaml:"driver" env:"DRIVER"`                   // memory | database | redis
	AgentDirectory string   `yaml:"agent_directory" env:"AGENT_DIRECTORY"` // static | database | none
	SharedAgents   []string `yaml:"shared_agents" env:"SHARED_AGENTS"`
	AutoMigrate    bool     `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// AuditConfig 审计输出
type AuditConfig struct {
	Sinks        []string `yaml:"sinks" env:"SINKS"` // log | redis | database
	Stream       string   `yaml:"stream" env:"STREAM"`
	StreamMaxLen int64    `yaml:"stream_max_len" env:"STREAM_MAX_LEN"`
}

// RedisConfig Redis 连接
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`

	KeyPrefix           string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize            int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns        int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`

	TLS       bool   `yaml:"tls" env:"TLS"`
	TLSCAFile string `yaml:"tls_ca_file" env:"TLS_CA_FILE"`
}

// DatabaseConfig 关系数据库连接
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"` // postgres | mysql | sqlite | sqlite3
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 下为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RunnerConfig 远程 Agent 服务
type RunnerConfig struct {
	// POST {endpoint}/agents/{ref}/run
	Endpoint string        `yaml:"endpoint" env:"ENDPOINT"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`

	RateLimitRPS     float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst   int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	MaxResponseBytes int64   `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
	MaxConns         int     `yaml:"max_conns" env:"MAX_CONNS"`

	// 单个 Agent 连续失败 BreakerThreshold 次后熔断，0 关闭
	BreakerThreshold int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerRecovery  time.Duration `yaml:"breaker_recovery" env:"BREAKER_RECOVERY"`

	CAFile   string `yaml:"ca_file" env:"CA_FILE"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// AuthConfig 请求认证；关闭 JWT 时从 OwnerHeader 读取用户
type AuthConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret   string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer      string `yaml:"issuer" env:"ISSUER"`
	Audience    string `yaml:"audience" env:"AUDIENCE"`
	OwnerHeader string `yaml:"owner_header" env:"OWNER_HEADER"`
}

// LogConfig zap 日志
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"` // json | console
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry 导出
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
	Environment  string `yaml:"environment" env:"ENVIRONMENT"`
	Insecure     bool   `yaml:"insecure" env:"INSECURE"`

	// >=1 全采样，<=0 不采样
	SampleRate     float64       `yaml:"sample_rate" env:"SAMPLE_RATE"`
	ExportInterval time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL"`
}

// 存储驱动、Agent 目录与审计输出的取值
const (
	StoreMemory   = "memory"
	StoreDatabase = "database"
	StoreRedis    = "redis"

	DirectoryStatic   = "static"
	DirectoryDatabase = "database"
	DirectoryNone     = "none"

	AuditSinkLog      = "log"
	AuditSinkRedis    = "redis"
	AuditSinkDatabase = "database"
)

// =============================================================================
// 🔌 DSN
// =============================================================================

// DSN 返回 GORM 使用的连接字符串，驱动未知时为空
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		pairs := []string{
			"host=" + pgQuote(d.Host),
			"port=" + strconv.Itoa(d.Port),
			"user=" + pgQuote(d.User),
			"password=" + pgQuote(d.Password),
			"dbname=" + pgQuote(d.Name),
			"sslmode=" + pgQuote(d.SSLMode),
		}
		return strings.Join(pairs, " ")
	case "mysql":
		addr := net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC", d.User, d.Password, addr, d.Name)
	case "sqlite", "sqlite3":
		return d.Name
	}
	return ""
}

// pgQuote 按 libpq 规则为含空白、引号或为空的值加引号
func pgQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
