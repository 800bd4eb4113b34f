package agent

import "github.com/metalagman/steward/internal/model"

// OutputSchema is the JSON Schema of model.AgentOutput as agents produce it.
// agent and timestamp are filled in by the runner when absent.
const OutputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "agent": { "type": "string" },
    "timestamp": { "type": "string" },
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "type": { "type": "string", "enum": ["alert", "insight", "suggestion", "action_item"] },
          "summary": { "type": "string" },
          "detail": { "type": "string" },
          "urgency": { "type": "string", "enum": ["critical", "high", "medium", "low"] },
          "confidence": { "type": "number", "minimum": 0, "maximum": 1 },
          "suggested_action": { "type": "string" },
          "context_refs": { "type": "array", "items": { "type": "string" } },
          "requires_human": { "type": "boolean" }
        },
        "required": ["type", "summary", "urgency"]
      }
    },
    "memory_updates": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "file": { "type": "string" },
          "operation": { "type": "string", "enum": ["append", "update", "flag"] },
          "content": { "type": "string" }
        },
        "required": ["file", "operation", "content"]
      }
    },
    "errors": { "type": "array", "items": { "type": "string" } },
    "escalation_needed": { "type": "boolean" },
    "escalation_reason": { "type": "string" }
  },
  "required": ["findings"]
}`

// InputSchema describes the context document handed to exec agents.
const InputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "agent": { "type": "string" },
    "cycle_id": { "type": "string" },
    "base_path": { "type": "string" },
    "trigger": {
      "type": "object",
      "properties": {
        "type": { "type": "string" },
        "agents": { "type": "array", "items": { "type": "string" } },
        "payload": { "type": "object" }
      },
      "required": ["type"]
    },
    "permissions": {
      "type": "object",
      "properties": {
        "can_read": { "type": "array", "items": { "type": "string" } },
        "can_write": { "type": "array", "items": { "type": "string" } },
        "can_send_messages": { "type": "boolean" },
        "requires_human_approval": { "type": "array", "items": { "type": "string" } }
      }
    }
  },
  "required": ["agent", "cycle_id", "trigger"]
}`

// Input builds the document validated against InputSchema.
func Input(cfg model.AgentSpawnConfig, rc RunContext) map[string]any {
	trigger := rc.Trigger
	trigger.Agents = nonNil(trigger.Agents)
	return map[string]any{
		"agent":     rc.Agent,
		"cycle_id":  rc.CycleID,
		"base_path": rc.BasePath,
		"trigger":   trigger,
		"permissions": map[string]any{
			"can_read":                nonNil(cfg.Permissions.CanRead),
			"can_write":               nonNil(cfg.Permissions.CanWrite),
			"can_send_messages":       cfg.Permissions.CanSendMessages,
			"requires_human_approval": nonNil(cfg.Permissions.RequiresHumanApproval),
		},
	}
}
