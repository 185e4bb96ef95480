package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// FieldError 单个配置项的校验失败
type FieldError struct {
	Field  string // yaml 路径，如 engine.max_depth
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

type fieldErrors []error

func (fe *fieldErrors) add(cond bool, field, format string, args ...any) {
	if cond {
		*fe = append(*fe, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
}

// Validate 校验整份配置，返回所有失败项（errors.Join）
func (c *Config) Validate() error {
	var fe fieldErrors

	s := c.Server
	fe.add(s.HTTPPort <= 0 || s.HTTPPort > 65535, "server.http_port", "invalid HTTP port %d", s.HTTPPort)
	fe.add(s.MetricsPort < 0 || s.MetricsPort > 65535, "server.metrics_port", "invalid metrics port %d", s.MetricsPort)
	fe.add(s.MetricsPort != 0 && s.MetricsPort == s.HTTPPort, "server.metrics_port", "metrics port must differ from HTTP port")
	fe.add(s.RateLimitRPS < 0, "server.rate_limit_rps", "must not be negative")
	fe.add((s.TLSCertFile == "") != (s.TLSKeyFile == ""), "server.tls_cert_file", "tls_cert_file and tls_key_file must be set together")

	e := c.Engine
	fe.add(e.RetryBaseDelay < 0, "engine.retry_base_delay", "must not be negative")
	fe.add(e.MaxDepth <= 0, "engine.max_depth", "must be positive")
	fe.add(e.DefaultMaxRetries < 0, "engine.default_max_retries", "must not be negative")

	switch c.Store.Driver {
	case StoreMemory, StoreRedis:
	case StoreDatabase:
		fe.add(c.Database.DSN() == "", "database.driver", "unsupported database driver %q", c.Database.Driver)
	default:
		fe.add(true, "store.driver", "unknown store driver %q", c.Store.Driver)
	}
	switch c.Store.AgentDirectory {
	case DirectoryStatic, DirectoryNone:
	case DirectoryDatabase:
		fe.add(c.Database.DSN() == "", "store.agent_directory", "database directory requires a supported database driver")
	default:
		fe.add(true, "store.agent_directory", "unknown agent directory %q", c.Store.AgentDirectory)
	}
	for _, sink := range c.Audit.Sinks {
		fe.add(!slices.Contains([]string{AuditSinkLog, AuditSinkRedis, AuditSinkDatabase}, sink),
			"audit.sinks", "unknown audit sink %q", sink)
	}

	r := c.Runner
	if r.Endpoint != "" {
		u, err := url.Parse(r.Endpoint)
		fe.add(err != nil || u.Scheme == "" || u.Host == "", "runner.endpoint", "must be an absolute URL")
	}
	fe.add(r.RateLimitRPS < 0, "runner.rate_limit_rps", "must not be negative")
	fe.add(r.BreakerThreshold < 0, "runner.breaker_threshold", "must not be negative")
	fe.add((r.CertFile == "") != (r.KeyFile == ""), "runner.cert_file", "cert_file and key_file must be set together")

	fe.add(c.Auth.Enabled && c.Auth.JWTSecret == "", "auth.jwt_secret", "required when auth is enabled")
	fe.add(!c.Auth.Enabled && c.Auth.OwnerHeader == "", "auth.owner_header", "required when auth is disabled")

	fe.add(c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1, "telemetry.sample_rate", "must be between 0 and 1")
	fe.add(c.Telemetry.ExportInterval < 0, "telemetry.export_interval", "must not be negative")

	return errors.Join(fe...)
}

// Redacted 返回隐藏了密码与密钥的副本，用于打印生效配置
func (c *Config) Redacted() *Config {
	cp := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "******"
		}
	}
	mask(&cp.Redis.Password)
	mask(&cp.Database.Password)
	mask(&cp.Runner.APIKey)
	mask(&cp.Auth.JWTSecret)
	return &cp
}
