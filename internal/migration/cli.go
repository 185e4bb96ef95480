package migration

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
)

// Schema CLI 依赖的迁移操作，*Migrator 满足该接口
type Schema interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Reset(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(version int) error
	Version() (uint, bool, error)
	Status() ([]Status, error)
	Pending() ([]File, error)
	EnsureCurrent() error
}

// Actions 列出 CLI 支持的动作；带数值参数的为 steps / goto / force
var Actions = []string{"up", "down", "reset", "steps", "goto", "force", "version", "status", "plan", "check"}

// NeedsArg 报告动作是否需要一个数值参数
func NeedsArg(action string) bool {
	switch action {
	case "steps", "goto", "force":
		return true
	}
	return false
}

// CLI 渲染 `agentweave migrate` 子命令的输出
type CLI struct {
	schema Schema
	out    io.Writer
}

// NewCLI 创建 CLI，输出写入 out
func NewCLI(schema Schema, out io.Writer) *CLI {
	return &CLI{schema: schema, out: out}
}

// Run 执行一个动作
func (c *CLI) Run(ctx context.Context, action string, args []string) error {
	var n int
	if NeedsArg(action) {
		if len(args) < 1 {
			return fmt.Errorf("migrate %s requires a numeric argument", action)
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid %s argument %q: %w", action, args[0], err)
		}
		n = v
	}

	switch action {
	case "up":
		return c.apply(ctx, "Applying pending migrations", c.schema.Up)
	case "down":
		return c.apply(ctx, "Rolling back the last migration", c.schema.Down)
	case "reset":
		return c.apply(ctx, "Rolling back all migrations", c.schema.Reset)
	case "steps":
		return c.apply(ctx, fmt.Sprintf("Moving %+d step(s)", n), func(ctx context.Context) error {
			return c.schema.Steps(ctx, n)
		})
	case "goto":
		if n < 0 {
			return fmt.Errorf("goto version must not be negative")
		}
		return c.apply(ctx, fmt.Sprintf("Migrating to version %d", n), func(ctx context.Context) error {
			return c.schema.Goto(ctx, uint(n))
		})
	case "force":
		if err := c.schema.Force(n); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Version forced to %d, no SQL was executed.\n", n)
		return nil
	case "version":
		return c.version()
	case "status":
		return c.status()
	case "plan":
		return c.plan()
	case "check":
		if err := c.schema.EnsureCurrent(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Schema is up to date.")
		return nil
	}
	return fmt.Errorf("unknown migrate action: %s", action)
}

func (c *CLI) apply(ctx context.Context, what string, fn func(context.Context) error) error {
	fmt.Fprintf(c.out, "%s...\n", what)
	if err := fn(ctx); err != nil {
		return err
	}
	version, _, err := c.schema.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Done. Schema version: %d\n", version)
	return nil
}

func (c *CLI) version() error {
	version, dirty, err := c.schema.Version()
	if err != nil {
		return err
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.out, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.out, "Schema version: %d (dirty)\n", version)
	default:
		fmt.Fprintf(c.out, "Schema version: %d\n", version)
	}
	return nil
}

func (c *CLI) status() error {
	statuses, err := c.schema.Status()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			applied++
			state = "applied"
		}
		if s.Dirty {
			state = "dirty"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%d applied, %d pending\n", applied, len(statuses)-applied)
	return nil
}

func (c *CLI) plan() error {
	pending, err := c.schema.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(c.out, "Nothing to apply.")
		return nil
	}
	fmt.Fprintf(c.out, "%d migration(s) would be applied by `migrate up`:\n", len(pending))
	for _, f := range pending {
		fmt.Fprintf(c.out, "  %06d %s\n", f.Version, f.Name)
	}
	return nil
}
