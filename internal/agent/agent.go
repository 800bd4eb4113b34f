// Package agent runs a single agent execution under a wall-clock budget and
// normalizes whatever it returns into a model.AgentOutput.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/model"
)

// ErrNoStrategy is returned when nothing can execute a spawn config.
var ErrNoStrategy = errors.New("no execution strategy")

// RunContext carries per-execution inputs to a Strategy.
type RunContext struct {
	Agent    string
	CycleID  string
	Trigger  model.Trigger
	BasePath string

	// Prompt is the agent prompt loaded from the spawn config's prompt_path.
	Prompt string

	// Action reports progress. It is a no-op once the run has completed.
	Action func(action string)
}

// Report emits an action event if the runner attached a callback.
func (rc RunContext) Report(action string) {
	if rc.Action != nil {
		rc.Action(action)
	}
}

// Strategy executes one agent for a given execution type.
type Strategy interface {
	Execute(ctx context.Context, cfg model.AgentSpawnConfig, rc RunContext) (model.AgentOutput, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, cfg model.AgentSpawnConfig, rc RunContext) (model.AgentOutput, error)

// Execute calls f.
func (f StrategyFunc) Execute(ctx context.Context, cfg model.AgentSpawnConfig, rc RunContext) (model.AgentOutput, error) {
	return f(ctx, cfg, rc)
}

// Listener receives lifecycle events. It may be called from several
// goroutines at once.
type Listener func(model.AgentEvent)

// Runner dispatches executions to strategies registered by execution type.
type Runner struct {
	mu         sync.RWMutex
	strategies map[model.ExecutionType]Strategy
	listener   Listener
}

// NewRunner creates a runner that reports events to listener (may be nil).
func NewRunner(listener Listener) *Runner {
	return &Runner{
		strategies: map[model.ExecutionType]Strategy{},
		listener:   listener,
	}
}

// Register binds a strategy to an execution type, replacing any previous one.
func (r *Runner) Register(execType model.ExecutionType, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[execType] = s
}

// Registered reports whether execType has a strategy.
func (r *Runner) Registered(execType model.ExecutionType) bool {
	_, ok := r.strategy(execType)
	return ok
}

func (r *Runner) strategy(execType model.ExecutionType) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[execType]
	return s, ok
}

// Run executes cfg and always returns an output. It emits a started event,
// any number of action events, and exactly one completed event.
func (r *Runner) Run(ctx context.Context, cfg model.AgentSpawnConfig, rc RunContext) model.AgentOutput {
	if rc.Agent == "" {
		rc.Agent = cfg.Agent
	}
	start := time.Now()
	r.emit(model.AgentEvent{
		Type:      model.EventStarted,
		Agent:     rc.Agent,
		CycleID:   rc.CycleID,
		Timestamp: start.UTC(),
	})

	var completed atomic.Bool
	rc.Action = func(action string) {
		if completed.Load() {
			return
		}
		r.emit(model.AgentEvent{
			Type:      model.EventAction,
			Agent:     rc.Agent,
			CycleID:   rc.CycleID,
			Timestamp: time.Now().UTC(),
			Action:    action,
		})
	}

	out := r.execute(ctx, cfg, rc)
	completed.Store(true)

	latency := time.Since(start)
	logger := log.Debug()
	if !out.OK() {
		logger = log.Warn().Strs("errors", out.Errors)
	}
	logger.Str("agent", rc.Agent).Str("cycle_id", rc.CycleID).Dur("latency", latency).Msg("agent run completed")

	r.emit(model.AgentEvent{
		Type:      model.EventCompleted,
		Agent:     rc.Agent,
		CycleID:   rc.CycleID,
		Timestamp: time.Now().UTC(),
		OK:        out.OK(),
		Output:    &out,
		Usage:     &model.Usage{LatencyMS: latency.Milliseconds()},
	})
	return out
}

type result struct {
	out model.AgentOutput
	err error
}

func (r *Runner) execute(ctx context.Context, cfg model.AgentSpawnConfig, rc RunContext) model.AgentOutput {
	ts := time.Now().UTC()

	s, ok := r.strategy(cfg.ExecutionType)
	if !ok {
		err := fmt.Errorf("%w for execution_type %q of agent %s", ErrNoStrategy, cfg.ExecutionType, rc.Agent)
		return model.ErrorOutput(rc.Agent, err.Error(), ts)
	}

	prompt, err := LoadPrompt(rc.BasePath, cfg.PromptPath)
	if err != nil {
		return model.ErrorOutput(rc.Agent, err.Error(), ts)
	}
	rc.Prompt = prompt

	timeout := cfg.Permissions.Timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a late result never blocks the abandoned goroutine.
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("agent panicked: %v", p)}
			}
		}()
		out, err := s.Execute(runCtx, cfg, rc)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return timedOut(rc.Agent, timeout, ts)
			}
			return model.ErrorOutput(rc.Agent, res.err.Error(), ts)
		}
		return res.out.Normalize(rc.Agent, ts)
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return model.ErrorOutput(rc.Agent, fmt.Sprintf("Agent cancelled: %v", ctx.Err()), ts)
		}
		return timedOut(rc.Agent, timeout, ts)
	}
}

func timedOut(agent string, timeout time.Duration, ts time.Time) model.AgentOutput {
	return model.ErrorOutput(agent, fmt.Sprintf("Agent timed out after %dms", timeout.Milliseconds()), ts)
}

func (r *Runner) emit(ev model.AgentEvent) {
	if r.listener == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Str("agent", ev.Agent).Str("event", string(ev.Type)).Interface("panic", p).Msg("event listener panicked")
		}
	}()
	r.listener(ev)
}
