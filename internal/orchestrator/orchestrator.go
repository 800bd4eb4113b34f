// Package orchestrator runs cycles: resolve agents for a trigger, spawn them
// under a parallelism bound, gate their memory updates, score findings and
// surface the ones above the fame threshold.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/config"
	"github.com/metalagman/steward/internal/history"
	"github.com/metalagman/steward/internal/memory"
	"github.com/metalagman/steward/internal/model"
	"github.com/metalagman/steward/internal/permission"
	"github.com/metalagman/steward/internal/router"
	"github.com/metalagman/steward/internal/salience"
)

// ConfigSource produces the orchestrator configuration. config.Loader
// implements it.
type ConfigSource interface {
	Load() (config.Config, error)
}

// Archiver persists completed cycles.
type Archiver interface {
	Save(ctx context.Context, c model.Cycle) error
}

// Hook observes completed cycles. Errors and panics are logged and ignored.
type Hook func(ctx context.Context, c model.Cycle) error

// Options configures an Orchestrator. The zero value is usable.
type Options struct {
	// Listener receives agent events in real time.
	Listener agent.Listener
	// Applier receives approved memory updates. Defaults to a
	// memory.FileApplier rooted at the configured base path.
	Applier memory.Applier
	// Archive stores every completed cycle when set.
	Archive Archiver
	// Hooks run after a cycle is recorded.
	Hooks []Hook
	// Strategies registers execution strategies by type, next to the
	// built-in local_script registry.
	Strategies map[model.ExecutionType]agent.Strategy
}

// Orchestrator is the composition root of a cycle. It is safe for concurrent
// use; cycles share one salience scorer.
type Orchestrator struct {
	source  ConfigSource
	runner  *agent.Runner
	locals  *agent.LocalRegistry
	scorer  *salience.Scorer
	history *history.Ring
	archive Archiver
	hooks   []Hook
	applier memory.Applier

	mu          sync.RWMutex
	loaded      bool
	cfg         config.Config
	router      *router.Router
	fileApplier *memory.FileApplier
}

// New creates an orchestrator. Configuration is read on the first cycle or
// on an explicit ReloadConfig.
func New(source ConfigSource, opts Options) *Orchestrator {
	locals := agent.NewLocalRegistry()
	runner := agent.NewRunner(opts.Listener)
	runner.Register(model.ExecLocalScript, locals)
	for execType, s := range opts.Strategies {
		runner.Register(execType, s)
	}
	return &Orchestrator{
		source:  source,
		runner:  runner,
		locals:  locals,
		scorer:  salience.NewScorer(),
		history: history.NewRing(config.DefaultHistorySize),
		archive: opts.Archive,
		hooks:   opts.Hooks,
		applier: opts.Applier,
	}
}

// RegisterLocal binds an in-process agent function to name.
func (o *Orchestrator) RegisterLocal(name string, fn agent.LocalFunc) {
	o.locals.Register(name, fn)
}

// ReloadConfig re-reads the configuration. On failure the previous
// configuration stays in effect.
func (o *Orchestrator) ReloadConfig(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := o.source.Load()
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
	o.loaded = true
	o.router = router.New(cfg.AgentRouting)
	o.fileApplier = memory.NewFileApplier(cfg.BasePath)
	o.scorer.Configure(cfg.Salience.Weights, cfg.Salience.RelevantPrefixes)
	o.history.Resize(cfg.HistorySize)

	log.Debug().
		Int("agents", len(cfg.Agents)).
		Int("triggers", len(cfg.Triggers)).
		Float64("fame_threshold", cfg.FameThreshold).
		Msg("configuration loaded")
	return nil
}

// Config returns the active configuration, loading it when needed.
func (o *Orchestrator) Config(ctx context.Context) (config.Config, error) {
	st, err := o.state(ctx)
	if err != nil {
		return config.Config{}, err
	}
	return st.cfg, nil
}

// Triggers returns the configured triggers of the last loaded configuration.
func (o *Orchestrator) Triggers() []model.Trigger {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]model.Trigger, len(o.cfg.Triggers))
	copy(out, o.cfg.Triggers)
	return out
}

// Route resolves req with the configured routing rules.
func (o *Orchestrator) Route(ctx context.Context, req router.Request) (router.Resolution, error) {
	st, err := o.state(ctx)
	if err != nil {
		return router.Resolution{}, err
	}
	return st.router.Resolve(req), nil
}

// History returns the cycles kept in memory, oldest first.
func (o *Orchestrator) History() []model.Cycle {
	return o.history.List()
}

// Cycle looks up a cycle kept in memory.
func (o *Orchestrator) Cycle(id string) (model.Cycle, bool) {
	return o.history.Get(id)
}

type state struct {
	cfg     config.Config
	router  *router.Router
	applier memory.Applier
}

func (o *Orchestrator) state(ctx context.Context) (state, error) {
	o.mu.RLock()
	loaded := o.loaded
	o.mu.RUnlock()
	if !loaded {
		if err := o.ReloadConfig(ctx); err != nil {
			return state{}, fmt.Errorf("load config: %w", err)
		}
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	st := state{cfg: o.cfg, router: o.router, applier: o.applier}
	if st.applier == nil {
		st.applier = o.fileApplier
	}
	return st, nil
}

// RunCycle runs one trigger to completion. Agent failures, permission
// rejections and apply failures end up in the cycle; only a configuration
// that cannot be loaded fails the call.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger model.Trigger) (model.Cycle, error) {
	st, err := o.state(ctx)
	if err != nil {
		return model.Cycle{}, err
	}
	cfg := st.cfg

	c := model.Cycle{
		ID:             uuid.NewString(),
		StartedAt:      time.Now().UTC(),
		Trigger:        trigger,
		AgentsSpawned:  []string{},
		AgentOutputs:   []model.AgentOutput{},
		ScoredFindings: []model.ScoredFinding{},
		Surfaced:       []model.ScoredFinding{},
		Errors:         []string{},
	}
	logger := log.With().Str("cycle_id", c.ID).Str("trigger", string(trigger.Type)).Logger()
	logger.Info().Str("name", trigger.Name).Msg("cycle started")

	names, errs := o.resolveAgents(cfg, st.router, trigger)
	c.Errors = append(c.Errors, errs...)
	c.AgentsSpawned = append(c.AgentsSpawned, names...)

	c.AgentOutputs = o.spawn(ctx, cfg, c.ID, trigger, names)

	for i, out := range c.AgentOutputs {
		spawn := cfg.Agents[names[i]]
		res := permission.Validate(out, spawn.Permissions)
		for _, rej := range res.Rejected {
			c.Errors = append(c.Errors, rej.Reason)
		}
		for _, upd := range res.Approved {
			if st.applier == nil {
				break
			}
			if err := st.applier.Apply(ctx, out.Agent, upd); err != nil {
				c.Errors = append(c.Errors, fmt.Sprintf("Apply failed: %s %s %s: %v", out.Agent, upd.Operation, upd.File, err))
			}
		}
	}

	c.Errors = append(c.Errors, o.escalations(cfg, c.AgentOutputs)...)

	inputs := make([]salience.Input, 0)
	for _, out := range c.AgentOutputs {
		for _, f := range out.Findings {
			inputs = append(inputs, salience.Input{Finding: f, Agent: out.Agent})
		}
	}
	c.ScoredFindings = o.scorer.Score(inputs)
	c.Surfaced = salience.Surface(c.ScoredFindings, cfg.FameThreshold)
	c.CompletedAt = time.Now().UTC()

	o.history.Push(c)
	o.finish(ctx, c)

	logger.Info().
		Int("agents", len(c.AgentsSpawned)).
		Int("findings", len(c.ScoredFindings)).
		Int("surfaced", len(c.Surfaced)).
		Int("errors", len(c.Errors)).
		Dur("duration", c.CompletedAt.Sub(c.StartedAt)).
		Msg("cycle completed")
	return c, nil
}

// resolveAgents expands the trigger agent list or routes the payload. Names
// without a spawn config become cycle errors.
func (o *Orchestrator) resolveAgents(cfg config.Config, r *router.Router, trigger model.Trigger) ([]string, []string) {
	var (
		names []string
		errs  []string
	)
	seen := map[string]bool{}
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if _, ok := cfg.Agents[name]; !ok {
			errs = append(errs, fmt.Sprintf("Unknown agent: %s", name))
			return
		}
		names = append(names, name)
	}

	if len(trigger.Agents) > 0 {
		for _, name := range trigger.Agents {
			if name == model.AllAgents {
				for _, n := range cfg.AgentNames() {
					add(n)
				}
				continue
			}
			add(name)
		}
		return names, errs
	}

	req, err := decodeRequest(trigger.Payload)
	if err != nil {
		return nil, []string{fmt.Sprintf("Routing failed: %v", err)}
	}
	res := r.Resolve(req)
	if res.Agent == "" {
		return nil, []string{"Routing failed: no agent resolved and no default_agent configured"}
	}
	log.Debug().Str("agent", res.Agent).Str("reason", res.Reason).Msg("trigger routed")
	add(res.Agent)
	return names, errs
}

func decodeRequest(payload map[string]any) (router.Request, error) {
	var req router.Request
	if len(payload) == 0 {
		return req, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &req,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return req, fmt.Errorf("create payload decoder: %w", err)
	}
	if err := dec.Decode(payload); err != nil {
		return req, fmt.Errorf("decode payload: %w", err)
	}
	return req, nil
}

// spawn runs names with at most MaxParallelAgents in flight. Outputs keep
// spawn order.
func (o *Orchestrator) spawn(ctx context.Context, cfg config.Config, cycleID string, trigger model.Trigger, names []string) []model.AgentOutput {
	outputs := make([]model.AgentOutput, len(names))
	limit := cfg.MaxParallelAgents
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, name := range names {
		spawn := cfg.Agents[name]
		if spawn.Agent == "" {
			spawn.Agent = name
		}
		g.Go(func() error {
			outputs[i] = o.runner.Run(ctx, spawn, agent.RunContext{
				Agent:    name,
				CycleID:  cycleID,
				Trigger:  trigger,
				BasePath: cfg.BasePath,
			})
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

// escalations counts escalation signals per agent over the history window
// plus this cycle and reports agents over budget.
func (o *Orchestrator) escalations(cfg config.Config, outputs []model.AgentOutput) []string {
	current := map[string]int{}
	for _, out := range outputs {
		if out.EscalationNeeded {
			current[out.Agent]++
			log.Info().Str("agent", out.Agent).Str("reason", out.EscalationReason).Msg("agent requested escalation")
		}
	}
	if len(current) == 0 {
		return nil
	}

	past := map[string]int{}
	for _, c := range o.history.List() {
		for _, out := range c.AgentOutputs {
			if out.EscalationNeeded {
				past[out.Agent]++
			}
		}
	}

	agents := make([]string, 0, len(current))
	for name := range current {
		agents = append(agents, name)
	}
	sort.Strings(agents)

	var errs []string
	for _, name := range agents {
		if current[name]+past[name] > cfg.MaxEscalationsPerAgent {
			errs = append(errs, "Escalation budget exhausted for "+name)
		}
	}
	return errs
}

func (o *Orchestrator) finish(ctx context.Context, c model.Cycle) {
	if o.archive != nil {
		if err := o.archive.Save(ctx, c); err != nil {
			log.Warn().Err(err).Str("cycle_id", c.ID).Msg("failed to archive cycle")
		}
	}
	for _, hook := range o.hooks {
		runHook(ctx, hook, c)
	}
}

func runHook(ctx context.Context, hook Hook, c model.Cycle) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Str("cycle_id", c.ID).Interface("panic", p).Msg("cycle hook panicked")
		}
	}()
	if err := hook(ctx, c); err != nil {
		log.Warn().Err(err).Str("cycle_id", c.ID).Msg("cycle hook failed")
	}
}
