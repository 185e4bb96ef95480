// =============================================================================
// AgentWeave 主入口
// =============================================================================
// 完整服务入口点，包含工作流 API、健康检查、Prometheus 指标与数据库迁移
//
// 使用方法:
//
//	agentweave serve                       # 启动服务
//	agentweave serve --config config.yaml  # 指定配置文件
//	agentweave validate -f workflow.yaml   # 校验工作流定义
//	agentweave config --config config.yaml # 打印生效配置（隐藏密钥）
//	agentweave version                     # 显示版本信息
//	agentweave health                      # 健康检查
//	agentweave migrate up                  # 运行数据库迁移
//	agentweave migrate status              # 查看迁移状态
// =============================================================================

// @title AgentWeave API
// @version 1.0.0
// @description AgentWeave executes user-defined multi-agent workflows.
// @description
// @description ## Features
// @description - Workflow CRUD scoped to the calling owner
// @description - Sequential, parallel, conditional and fan-in edges with per-node retries and timeouts
// @description - Run events over WebSocket
// @description - Health monitoring and metrics

// @contact.name AgentWeave Team
// @contact.url https://github.com/BaSui01/agentweave

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT bearer token; the sub claim is the owner ID

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentweave/config"
	"github.com/BaSui01/agentweave/workflow"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 表示已打印用法说明，调用方只需返回非零退出码
var errUsage = errors.New("invalid usage")

// configReloadInterval 配置文件轮询间隔
const configReloadInterval = 30 * time.Second

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 分发子命令并返回进程退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "serve":
		err = runServe(ctx, args[1:])
	case "migrate":
		err = runMigrate(ctx, args[1:], stdout)
	case "validate":
		err = runValidate(args[1:], stdout)
	case "config":
		err = runConfig(args[1:], stdout)
	case "version":
		printVersion(stdout)
	case "health":
		err = runHealthCheck(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}

	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func isHelp(arg string) bool {
	return arg == "help" || arg == "-h" || arg == "--help"
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AgentWeave",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 配置文件热重载，目前只有日志级别无需重启即可生效
	if *configPath != "" {
		reloader := config.NewReloader(loader, cfg, configReloadInterval, logger)
		reloader.OnReload(func(_, next *config.Config, changed []string) {
			for _, field := range changed {
				if field == "Log.Level" {
					level.SetLevel(parseLevel(next.Log.Level))
					logger.Info("log level changed", zap.String("level", next.Log.Level))
				}
			}
		})
		if err := reloader.Start(ctx); err != nil {
			logger.Warn("config reloader not started", zap.Error(err))
		} else {
			defer reloader.Stop()
		}
	}

	srv, err := NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize server", zap.Error(err))
		return err
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}

	logger.Info("AgentWeave stopped")
	return nil
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

// runValidate 离线校验工作流定义文件（JSON 或 YAML），与创建接口使用同一套规则
func runValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stdout)
	file := fs.String("f", "", "Path to workflow definition (.json, .yaml)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *file == "" {
		fmt.Fprintln(stdout, "Usage: agentweave validate -f <workflow.yaml>")
		return errUsage
	}

	def, err := workflow.LoadDefinitionFile(*file)
	if err != nil {
		return fmt.Errorf("%s: %w", *file, err)
	}

	fmt.Fprintf(stdout, "OK %s: %q, %d nodes, start %s\n", *file, def.Name, len(def.Nodes), def.Nodes[0].ID)
	for _, n := range def.ToNodes(0) {
		line := fmt.Sprintf("  %-16s %-12s %s", n.ID, n.EdgeType, n.AgentRef)
		if len(n.NextIDs) > 0 {
			line += " -> " + strings.Join(n.NextIDs, ", ")
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

// =============================================================================
// ⚙️ config 命令
// =============================================================================

// runConfig 打印合并默认值、配置文件与环境变量后的配置，或列出可用的环境变量
func runConfig(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "Path to config file")
	listEnv := fs.Bool("env", false, "List supported environment variables")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *listEnv {
		for _, key := range config.EnvKeys(config.DefaultEnvPrefix) {
			fmt.Fprintln(stdout, key)
		}
		return nil
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*addr, "/")+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Fprintln(stdout, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "AgentWeave %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `AgentWeave - Multi-agent workflow engine

Usage:
  agentweave <command> [options]

Commands:
  serve      Start the AgentWeave server
  migrate    Database migration commands
  validate   Check a workflow definition file
  config     Print the effective configuration
  version    Show version information
  health     Check server health
  help       Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'config':
  --config <path>   Path to configuration file (YAML)
  --env             List supported AGENTWEAVE_* environment variables

Examples:
  agentweave serve
  agentweave serve --config /etc/agentweave/config.yaml
  agentweave validate -f pipeline.yaml
  agentweave config --env
  agentweave migrate up
  agentweave health --addr http://localhost:8080
  agentweave version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initLogger 构建 logger，返回的 AtomicLevel 用于运行时调整日志级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
