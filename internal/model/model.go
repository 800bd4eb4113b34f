// Package model defines the records exchanged between triggers, agents and the orchestrator.
package model

import (
	"time"
)

// TriggerType identifies what started a cycle.
type TriggerType string

// Trigger types.
const (
	TriggerCron         TriggerType = "cron"
	TriggerCLI          TriggerType = "cli"
	TriggerSlack        TriggerType = "slack"
	TriggerWebhook      TriggerType = "webhook"
	TriggerFileChange   TriggerType = "file_change"
	TriggerAgentRequest TriggerType = "agent_request"
)

// AllAgents selects every registered agent when used in Trigger.Agents.
const AllAgents = "*"

// Trigger starts a cycle. It is consumed once.
type Trigger struct {
	Name     string         `json:"name,omitempty"     mapstructure:"name"`
	Type     TriggerType    `json:"type"               mapstructure:"type"`
	Schedule string         `json:"schedule,omitempty" mapstructure:"schedule"`
	Agents   []string       `json:"agents"             mapstructure:"agents"`
	Payload  map[string]any `json:"payload,omitempty"  mapstructure:"payload"`
}

// DefaultTimeout applies when a permission envelope does not set timeout_ms.
const DefaultTimeout = 30 * time.Second

// PermissionEnvelope is the declarative capability set of one agent.
type PermissionEnvelope struct {
	CanRead               []string `json:"can_read"                   mapstructure:"can_read"`
	CanWrite              []string `json:"can_write"                  mapstructure:"can_write"`
	CanCallAPIs           []string `json:"can_call_apis,omitempty"    mapstructure:"can_call_apis"`
	CanSendMessages       bool     `json:"can_send_messages"          mapstructure:"can_send_messages"`
	RequiresHumanApproval []string `json:"requires_human_approval"    mapstructure:"requires_human_approval"`
	MaxTokens             int      `json:"max_tokens,omitempty"       mapstructure:"max_tokens"`
	Model                 string   `json:"model,omitempty"            mapstructure:"model"`
	EscalationModel       string   `json:"escalation_model,omitempty" mapstructure:"escalation_model"`
	TimeoutMS             int      `json:"timeout_ms,omitempty"       mapstructure:"timeout_ms"`
}

// Timeout returns the wall-clock budget of one execution.
func (p PermissionEnvelope) Timeout() time.Duration {
	if p.TimeoutMS <= 0 {
		return DefaultTimeout
	}
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// ExecutionType selects the strategy that runs an agent.
type ExecutionType string

// Execution types.
const (
	ExecLocalScript ExecutionType = "local_script"
	ExecClaudeCode  ExecutionType = "claude_code"
	ExecCodexCLI    ExecutionType = "codex_cli"
	ExecAPI         ExecutionType = "api"
	ExecCommand     ExecutionType = "exec"
)

// AgentSpawnConfig describes how one registered agent is spawned.
type AgentSpawnConfig struct {
	Agent         string             `json:"agent"                mapstructure:"agent"`
	PromptPath    string             `json:"prompt_path"          mapstructure:"prompt_path"`
	Permissions   PermissionEnvelope `json:"permissions"          mapstructure:"permissions"`
	ExecutionType ExecutionType      `json:"execution_type"       mapstructure:"execution_type"`
	Model         string             `json:"model,omitempty"      mapstructure:"model"`
	Command       []string           `json:"command,omitempty"    mapstructure:"command"`
	Args          []string           `json:"args,omitempty"       mapstructure:"args"`
	MaxTurns      int                `json:"max_turns,omitempty"  mapstructure:"max_turns"`
}

// FindingType classifies a finding.
type FindingType string

// Finding types.
const (
	FindingAlert      FindingType = "alert"
	FindingInsight    FindingType = "insight"
	FindingSuggestion FindingType = "suggestion"
	FindingActionItem FindingType = "action_item"
)

// Urgency of a finding.
type Urgency string

// Urgency levels.
const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// Finding is a single observation produced by an agent.
type Finding struct {
	Type            FindingType `json:"type"`
	Summary         string      `json:"summary"`
	Detail          string      `json:"detail,omitempty"`
	Urgency         Urgency     `json:"urgency"`
	Confidence      float64     `json:"confidence"`
	SuggestedAction string      `json:"suggested_action,omitempty"`
	ContextRefs     []string    `json:"context_refs,omitempty"`
	RequiresHuman   bool        `json:"requires_human"`
}

// MemoryOperation is the kind of proposed mutation.
type MemoryOperation string

// Memory operations.
const (
	MemoryOpAppend MemoryOperation = "append"
	MemoryOpUpdate MemoryOperation = "update"
	MemoryOpFlag   MemoryOperation = "flag"
)

// MemoryUpdate is a proposed mutation of file-based memory. It is not applied
// until it passes permission validation.
type MemoryUpdate struct {
	File      string          `json:"file"`
	Operation MemoryOperation `json:"operation"`
	Content   string          `json:"content"`
}

// AgentOutput is the result envelope returned by every execution path.
type AgentOutput struct {
	Agent            string         `json:"agent"`
	Timestamp        time.Time      `json:"timestamp"`
	Findings         []Finding      `json:"findings"`
	MemoryUpdates    []MemoryUpdate `json:"memory_updates"`
	Errors           []string       `json:"errors"`
	EscalationNeeded bool           `json:"escalation_needed,omitempty"`
	EscalationReason string         `json:"escalation_reason,omitempty"`
}

// OK reports whether the output carries no errors.
func (o AgentOutput) OK() bool {
	return len(o.Errors) == 0
}

// ErrorOutput builds an output holding a single error and no findings.
func ErrorOutput(agent string, msg string, ts time.Time) AgentOutput {
	return AgentOutput{
		Agent:         agent,
		Timestamp:     ts,
		Findings:      []Finding{},
		MemoryUpdates: []MemoryUpdate{},
		Errors:        []string{msg},
	}
}

// Normalize stamps the output with the agent that produced it, fills a
// missing timestamp and replaces nil slices with empty ones. An agent name
// claimed by the output itself is overwritten.
func (o AgentOutput) Normalize(agent string, ts time.Time) AgentOutput {
	o.Agent = agent
	if o.Timestamp.IsZero() {
		o.Timestamp = ts
	}
	if o.Findings == nil {
		o.Findings = []Finding{}
	}
	if o.MemoryUpdates == nil {
		o.MemoryUpdates = []MemoryUpdate{}
	}
	if o.Errors == nil {
		o.Errors = []string{}
	}
	return o
}

// ScoredFinding is a finding ranked by salience.
type ScoredFinding struct {
	Finding  Finding `json:"finding"`
	Agent    string  `json:"agent"`
	Salience float64 `json:"salience"`
}

// Cycle records one trigger -> spawn -> score -> surface run.
type Cycle struct {
	ID             string          `json:"cycle_id"`
	StartedAt      time.Time       `json:"started_at"`
	Trigger        Trigger         `json:"trigger"`
	AgentsSpawned  []string        `json:"agents_spawned"`
	AgentOutputs   []AgentOutput   `json:"agent_outputs"`
	ScoredFindings []ScoredFinding `json:"scored_findings"`
	Surfaced       []ScoredFinding `json:"surfaced"`
	CompletedAt    time.Time       `json:"completed_at"`
	Errors         []string        `json:"errors"`
}

// EventType tags an AgentEvent.
type EventType string

// Agent event types.
const (
	EventStarted   EventType = "started"
	EventAction    EventType = "action"
	EventCompleted EventType = "completed"
)

// Usage carries execution statistics of a completed run.
type Usage struct {
	LatencyMS int64 `json:"latency_ms"`
}

// AgentEvent is streamed to listeners while agents run.
type AgentEvent struct {
	Type      EventType `json:"type"`
	Agent     string    `json:"agent"`
	CycleID   string    `json:"cycle_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action events.
	Action string `json:"action,omitempty"`

	// Completed events.
	OK     bool         `json:"ok,omitempty"`
	Output *AgentOutput `json:"output,omitempty"`
	Usage  *Usage       `json:"usage,omitempty"`
}
