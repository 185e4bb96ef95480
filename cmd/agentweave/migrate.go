package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/BaSui01/agentweave/config"
	"github.com/BaSui01/agentweave/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate 处理 migrate 子命令
//
//	agentweave migrate <action> [N] [--config path] [--db-type t --db-url u]
func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 || isHelp(args[0]) {
		printMigrateUsage(stdout)
		if len(args) < 1 {
			return errUsage
		}
		return nil
	}

	action := args[0]
	rest := args[1:]

	// steps / goto / force 的数值参数位于 flag 之前
	var positional []string
	if migration.NeedsArg(action) {
		if len(rest) < 1 {
			return fmt.Errorf("usage: agentweave migrate %s <n>", action)
		}
		positional, rest = rest[:1], rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+action, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	verbose := fs.Bool("v", false, "Log each migration step")
	if err := fs.Parse(rest); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	opts := migration.Options{}
	if *verbose {
		opts.Logger, _ = initLogger(config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	}
	migrator, err := createMigrator(*configPath, *dbType, *dbURL, opts)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	return migration.NewCLI(migrator, stdout).Run(ctx, action, positional)
}

// createMigrator 优先使用 --db-type 与 --db-url，否则从配置文件读取数据库参数
func createMigrator(configPath, dbType, dbURL string, opts migration.Options) (*migration.Migrator, error) {
	if dbType != "" && dbURL != "" {
		dialect, err := migration.ParseDialect(dbType)
		if err != nil {
			return nil, err
		}
		return migration.Open(dialect, dbURL, opts)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.OpenConfig(cfg.Database, opts)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  agentweave migrate <action> [options]

Actions:
  up          Apply all pending migrations
  down        Rollback the last migration
  reset       Rollback all migrations
  steps <n>   Apply n migrations (negative rolls back)
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version without running SQL
  version     Show current migration version
  status      Show every migration and whether it is applied
  plan        List the migrations "up" would apply
  check       Exit non-zero if the schema is dirty or behind

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)
  -v                  Log each migration step

Examples:
  agentweave migrate up
  agentweave migrate up --config /etc/agentweave/config.yaml
  agentweave migrate steps -1
  agentweave migrate check --config /etc/agentweave/config.yaml
  agentweave migrate status --db-type sqlite --db-url file:agentweave.db`)
}
