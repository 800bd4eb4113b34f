// Package router picks the agent for an ad-hoc request.
package router

import (
	"strings"

	"github.com/metalagman/steward/internal/pathsec"
)

// Resolution reasons.
const (
	ReasonUserDirective = "user_directive"
	ReasonContextMatch  = "context_match"
	ReasonTaskAffinity  = "task_affinity"
	ReasonDefault       = "default"
)

// Affinity ties an agent to task types and a file context.
type Affinity struct {
	Agent        string   `json:"agent"                   mapstructure:"agent"`
	TaskTypes    []string `json:"task_types,omitempty"    mapstructure:"task_types"`
	ContextMatch string   `json:"context_match,omitempty" mapstructure:"context_match"`
	Priority     int      `json:"priority,omitempty"      mapstructure:"priority"`
}

// Config is the agent_routing section of the orchestrator configuration.
type Config struct {
	Affinities     []Affinity        `json:"affinities"                mapstructure:"affinities"`
	DefaultAgent   string            `json:"default_agent"             mapstructure:"default_agent"`
	UserDirectives map[string]string `json:"user_directives,omitempty" mapstructure:"user_directives"`
}

// Request is an ad-hoc unit of work to route.
type Request struct {
	Prompt        string   `json:"prompt"                   mapstructure:"prompt"`
	TaskType      string   `json:"task_type,omitempty"      mapstructure:"task_type"`
	UserDirective string   `json:"user_directive,omitempty" mapstructure:"user_directive"`
	TouchesFiles  []string `json:"touches_files,omitempty"  mapstructure:"touches_files"`
}

// Resolution is the routing decision.
type Resolution struct {
	Agent           string    `json:"agent"`
	Reason          string    `json:"reason"`
	MatchedAffinity *Affinity `json:"matched_affinity,omitempty"`
}

// Router resolves requests against a fixed configuration.
type Router struct {
	cfg Config
}

// New creates a router.
func New(cfg Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve applies, in order: user directive, context match, task affinity,
// default agent.
func (r *Router) Resolve(req Request) Resolution {
	if agent, ok := r.directive(req.UserDirective); ok {
		return Resolution{Agent: agent, Reason: ReasonUserDirective}
	}
	if aff, ok := r.contextMatch(req.TouchesFiles); ok {
		return Resolution{Agent: aff.Agent, Reason: ReasonContextMatch, MatchedAffinity: &aff}
	}
	if aff, ok := r.taskAffinity(req.TaskType); ok {
		return Resolution{Agent: aff.Agent, Reason: ReasonTaskAffinity, MatchedAffinity: &aff}
	}
	return Resolution{Agent: r.cfg.DefaultAgent, Reason: ReasonDefault}
}

// directive returns the agent of the longest configured prefix of d.
// Prefixes compare case-insensitively; config keys arrive lower-cased.
func (r *Router) directive(d string) (string, bool) {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return "", false
	}
	best, agent := "", ""
	for prefix, name := range r.cfg.UserDirectives {
		prefix = strings.ToLower(prefix)
		if prefix == "" || !strings.HasPrefix(d, prefix) {
			continue
		}
		if len(prefix) > len(best) || (len(prefix) == len(best) && prefix < best) {
			best, agent = prefix, name
		}
	}
	return agent, best != ""
}

// contextMatch returns the first affinity, in configuration order, whose
// glob matches any touched file.
func (r *Router) contextMatch(files []string) (Affinity, bool) {
	if len(files) == 0 {
		return Affinity{}, false
	}
	for _, aff := range r.cfg.Affinities {
		if aff.ContextMatch == "" {
			continue
		}
		for _, f := range files {
			rel, ok := pathsec.Normalize(f, "")
			if ok && pathsec.Match(aff.ContextMatch, rel) {
				return aff, true
			}
		}
	}
	return Affinity{}, false
}

// taskAffinity returns the highest-priority affinity listing taskType. Ties
// go to the earlier entry.
func (r *Router) taskAffinity(taskType string) (Affinity, bool) {
	if taskType == "" {
		return Affinity{}, false
	}
	var best Affinity
	found := false
	for _, aff := range r.cfg.Affinities {
		if !contains(aff.TaskTypes, taskType) {
			continue
		}
		if !found || aff.Priority > best.Priority {
			best, found = aff, true
		}
	}
	return best, found
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
