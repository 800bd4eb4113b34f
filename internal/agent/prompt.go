package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/steward/internal/model"
)

// LoadPrompt reads the agent prompt. Relative paths resolve against basePath.
// An empty promptPath yields an empty prompt.
func LoadPrompt(basePath, promptPath string) (string, error) {
	promptPath = strings.TrimSpace(promptPath)
	if promptPath == "" {
		return "", nil
	}
	if !filepath.IsAbs(promptPath) {
		promptPath = filepath.Join(basePath, promptPath)
	}
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return "", fmt.Errorf("load prompt: %w", err)
	}
	return string(data), nil
}

type promptContext struct {
	Agent       string        `json:"agent"`
	CycleID     string        `json:"cycle_id"`
	Trigger     model.Trigger `json:"trigger"`
	BasePath    string        `json:"base_path"`
	Permissions struct {
		CanRead               []string `json:"can_read"`
		CanWrite              []string `json:"can_write"`
		CanSendMessages       bool     `json:"can_send_messages"`
		RequiresHumanApproval []string `json:"requires_human_approval"`
	} `json:"permissions"`
}

// BuildPrompt renders the full prompt handed to external agents: the agent's
// own instructions, a JSON context block and the output contract.
func BuildPrompt(cfg model.AgentSpawnConfig, rc RunContext) string {
	pc := promptContext{
		Agent:    rc.Agent,
		CycleID:  rc.CycleID,
		Trigger:  rc.Trigger,
		BasePath: rc.BasePath,
	}
	pc.Permissions.CanRead = nonNil(cfg.Permissions.CanRead)
	pc.Permissions.CanWrite = nonNil(cfg.Permissions.CanWrite)
	pc.Permissions.CanSendMessages = cfg.Permissions.CanSendMessages
	pc.Permissions.RequiresHumanApproval = nonNil(cfg.Permissions.RequiresHumanApproval)
	ctxJSON, _ := json.MarshalIndent(pc, "", "  ")

	var b strings.Builder
	if p := strings.TrimSpace(rc.Prompt); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString("## Context\n\n```json\n")
	b.Write(ctxJSON)
	b.WriteString("\n```\n\n")
	b.WriteString("## Output\n\n")
	b.WriteString("- Only read files matching permissions.can_read. Never open credential or secret files.\n")
	b.WriteString("- Do not write files yourself. Propose changes as memory_updates; files must match permissions.can_write.\n")
	b.WriteString("- Use operation \"flag\" to put something in front of a human for review.\n")
	b.WriteString("- Set escalation_needed with a reason if a more capable model should redo the work.\n")
	b.WriteString("- Reply with a single JSON object matching this schema and nothing else:\n\n```json\n")
	b.WriteString(OutputSchema)
	b.WriteString("\n```\n")
	return b.String()
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
