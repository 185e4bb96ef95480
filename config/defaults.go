package config

import "time"

// DefaultConfig 返回默认配置：单机内存存储、日志审计、无认证
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
			MaxBodyBytes:    1 << 20,
		},
		Engine: EngineConfig{
			RetryBaseDelay: time.Second,
			MaxDepth:       256,
			HistorySize:    20,
			StreamBuffer:   64,
		},
		Store: StoreConfig{
			Driver:         StoreMemory,
			AgentDirectory: DirectoryNone,
		},
		Audit: AuditConfig{
			Sinks:        []string{AuditSinkLog},
			Stream:       "audit",
			StreamMaxLen: 10_000,
		},
		Redis: RedisConfig{
			Addr:                "localhost:6379",
			KeyPrefix:           "agentweave",
			PoolSize:            10,
			MinIdleConns:        2,
			HealthCheckInterval: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "agentweave",
			Name:            "agentweave",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Runner: RunnerConfig{
			Endpoint:         "http://localhost:8090",
			Timeout:          2 * time.Minute,
			RateLimitBurst:   10,
			MaxResponseBytes: 4 << 20,
			MaxConns:         32,
			BreakerThreshold: 5,
			BreakerRecovery:  30 * time.Second,
		},
		Auth:      DefaultAuthConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultAuthConfig 关闭 JWT，从 X-Owner-ID 读取用户
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{OwnerHeader: "X-Owner-ID"}
}

// DefaultLogConfig JSON 输出到 stdout
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 默认关闭，启用后以 10% 采样导出到本地 collector
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "agentweave",
		SampleRate:     0.1,
		Insecure:       true,
		ExportInterval: 30 * time.Second,
	}
}
