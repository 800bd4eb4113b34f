package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/metalagman/steward/internal/model"
)

// LocalFunc is an in-process agent. It should return when ctx is done; a
// result delivered after the deadline is discarded.
type LocalFunc func(ctx context.Context, rc RunContext) (model.AgentOutput, error)

// LocalRegistry is the local_script strategy: it dispatches by agent name.
type LocalRegistry struct {
	mu    sync.RWMutex
	funcs map[string]LocalFunc
}

// NewLocalRegistry returns an empty registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{funcs: map[string]LocalFunc{}}
}

// Register binds fn to an agent name.
func (l *LocalRegistry) Register(name string, fn LocalFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs[name] = fn
}

// Names lists registered agents in sorted order.
func (l *LocalRegistry) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.funcs))
	for name := range l.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs the function registered under cfg.Agent.
func (l *LocalRegistry) Execute(ctx context.Context, cfg model.AgentSpawnConfig, rc RunContext) (model.AgentOutput, error) {
	l.mu.RLock()
	fn, ok := l.funcs[cfg.Agent]
	l.mu.RUnlock()
	if !ok {
		return model.AgentOutput{}, fmt.Errorf("%w: no local agent registered as %q", ErrNoStrategy, cfg.Agent)
	}
	return fn(ctx, rc)
}
