package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentweave/types"
	"github.com/BaSui01/agentweave/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// 🔌 按 Agent 熔断
// =============================================================================

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// FailureThreshold 连续失败次数阈值，达到后触发熔断
	FailureThreshold int
	// RecoveryTimeout 熔断后等待恢复的时间
	RecoveryTimeout time.Duration
	// HalfOpenMaxProbes 半开状态允许同时进行的探测调用数
	HalfOpenMaxProbes int
	// SuccessThreshold 半开状态下连续成功多少次后恢复
	SuccessThreshold int
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  1,
	}
}

// BreakerState 熔断器状态
type BreakerState int

const (
	// BreakerClosed 正常状态，允许调用
	BreakerClosed BreakerState = iota
	// BreakerOpen 熔断状态，直接拒绝调用
	BreakerOpen
	// BreakerHalfOpen 半开状态，允许少量探测调用
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// circuit 单个 Agent 的熔断状态，由 Breaker.mu 保护
type circuit struct {
	state       BreakerState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
}

// Breaker 包装 workflow.AgentRunner，对每个 agent_ref 独立熔断
//
// 只有调用错误（网络、超时、5xx）计入失败；Agent 正常返回的业务失败
// 说明服务可达，不影响熔断状态。调用方自身取消的请求不计数。
type Breaker struct {
	next     workflow.AgentRunner
	cfg      BreakerConfig
	circuits map[string]*circuit
	mu       sync.Mutex
	now      func() time.Time
	logger   *zap.Logger
}

// NewBreaker 创建熔断包装
func NewBreaker(next workflow.AgentRunner, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	return &Breaker{
		next:     next,
		cfg:      cfg,
		circuits: make(map[string]*circuit),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "agent_breaker")),
	}
}

// Invoke implements workflow.AgentRunner.
func (b *Breaker) Invoke(ctx context.Context, agentRef, ownerID string, rc workflow.RunContext) (*workflow.AgentRunResponse, error) {
	if err := b.allow(agentRef); err != nil {
		return nil, err
	}

	resp, err := b.next.Invoke(ctx, agentRef, ownerID, rc)
	switch {
	case err == nil:
		b.recordSuccess(agentRef)
	case ctx.Err() != nil:
		b.release(agentRef)
	default:
		b.recordFailure(agentRef)
	}
	return resp, err
}

// State 返回 agentRef 当前的熔断状态
func (b *Breaker) State(agentRef string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[agentRef]; ok {
		return c.state
	}
	return BreakerClosed
}

func (b *Breaker) circuit(agentRef string) *circuit {
	c, ok := b.circuits[agentRef]
	if !ok {
		c = &circuit{}
		b.circuits[agentRef] = c
	}
	return c
}

func (b *Breaker) allow(agentRef string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentRef)
	switch c.state {
	case BreakerOpen:
		wait := b.cfg.RecoveryTimeout - b.now().Sub(c.lastFailure)
		if wait > 0 {
			return types.NewError(types.ErrServiceUnavailable,
				fmt.Sprintf("agent %s circuit open after %d consecutive failures, retry after %v", agentRef, c.failures, wait.Round(time.Millisecond))).
				WithRetryable(true)
		}
		b.transition(agentRef, c, BreakerHalfOpen, "recovery timeout elapsed")
		c.probes, c.successes = 0, 0
		fallthrough
	case BreakerHalfOpen:
		if c.probes >= b.cfg.HalfOpenMaxProbes {
			return types.NewError(types.ErrServiceUnavailable,
				fmt.Sprintf("agent %s circuit half-open, probe in progress", agentRef)).
				WithRetryable(true)
		}
		c.probes++
	}
	return nil
}

func (b *Breaker) recordSuccess(agentRef string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentRef)
	switch c.state {
	case BreakerClosed:
		c.failures = 0
	case BreakerHalfOpen:
		c.probes--
		c.successes++
		if c.successes >= b.cfg.SuccessThreshold {
			c.failures, c.successes = 0, 0
			b.transition(agentRef, c, BreakerClosed, "probe succeeded")
		}
	}
}

func (b *Breaker) recordFailure(agentRef string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentRef)
	c.failures++
	c.lastFailure = b.now()

	switch c.state {
	case BreakerClosed:
		if c.failures >= b.cfg.FailureThreshold {
			b.transition(agentRef, c, BreakerOpen, fmt.Sprintf("%d consecutive failures", c.failures))
		}
	case BreakerHalfOpen:
		c.probes--
		c.successes = 0
		b.transition(agentRef, c, BreakerOpen, "probe failed")
	}
}

// release 归还被取消调用占用的探测名额
func (b *Breaker) release(agentRef string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.circuit(agentRef); c.state == BreakerHalfOpen && c.probes > 0 {
		c.probes--
	}
}

// transition 必须在锁内调用
func (b *Breaker) transition(agentRef string, c *circuit, next BreakerState, reason string) {
	prev := c.state
	c.state = next
	b.logger.Info("agent circuit state change",
		zap.String("agent_ref", agentRef),
		zap.String("old_state", prev.String()),
		zap.String("new_state", next.String()),
		zap.String("reason", reason),
		zap.Int("failures", c.failures),
	)
}
