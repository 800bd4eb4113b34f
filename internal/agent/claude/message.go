// Package claude runs the claude CLI in stream-json mode and folds its
// message stream into an agent output.
package claude

import "encoding/json"

// Message types and result subtypes of the stream-json protocol.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"

	SubtypeSuccess           = "success"
	SubtypeErrorMaxTurns     = "error_max_turns"
	SubtypeErrorMaxBudgetUSD = "error_max_budget_usd"
	SubtypeErrorDuringExec   = "error_during_execution"
)

// Message is one stream-json event.
type Message struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Assistant and user events.
	Message *AssistantMessage `json:"message,omitempty"`

	// Result events.
	Result           string          `json:"result,omitempty"`
	IsError          bool            `json:"is_error,omitempty"`
	NumTurns         int             `json:"num_turns,omitempty"`
	TotalCostUSD     float64         `json:"total_cost_usd,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
}

// AssistantMessage is the payload of an assistant event.
type AssistantMessage struct {
	Role    string         `json:"role,omitempty"`
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one block of message content.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Text concatenates the text blocks of an assistant message.
func (m Message) Text() string {
	if m.Message == nil {
		return ""
	}
	var text string
	for _, block := range m.Message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text
}

// ToolUses lists the names of tools invoked by an assistant message.
func (m Message) ToolUses() []string {
	if m.Message == nil {
		return nil
	}
	var names []string
	for _, block := range m.Message.Content {
		if block.Type == "tool_use" && block.Name != "" {
			names = append(names, block.Name)
		}
	}
	return names
}

// CapacityExhausted reports whether the run stopped because it ran out of
// turns or budget rather than failing outright.
func (m Message) CapacityExhausted() bool {
	return m.Subtype == SubtypeErrorMaxTurns || m.Subtype == SubtypeErrorMaxBudgetUSD
}
