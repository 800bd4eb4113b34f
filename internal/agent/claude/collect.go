package claude

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/model"
)

// ErrNoResult is returned when the stream ends without a result event.
var ErrNoResult = errors.New("claude stream ended without result")

// Collect consumes msgs up to the terminal result event and builds the agent
// output. Assistant text is buffered so that a run which exhausted its turn
// or budget allowance can still yield the JSON it last wrote.
func Collect(msgs iter.Seq2[Message, error], report func(string)) (model.AgentOutput, error) {
	var lastText string
	for msg, err := range msgs {
		if err != nil {
			return model.AgentOutput{}, err
		}
		switch msg.Type {
		case TypeAssistant:
			if text := msg.Text(); text != "" {
				lastText = text
			}
			if report != nil {
				for _, tool := range msg.ToolUses() {
					report("tool: " + tool)
				}
			}
		case TypeResult:
			return fromResult(msg, lastText), nil
		}
	}
	return model.AgentOutput{}, ErrNoResult
}

func fromResult(msg Message, lastText string) model.AgentOutput {
	var errs []string
	success := msg.Subtype == SubtypeSuccess && !msg.IsError
	if !success {
		subtype := msg.Subtype
		if subtype == "" || subtype == SubtypeSuccess {
			subtype = "error"
		}
		errs = append(errs, "Agent ended with: "+subtype)
		errs = append(errs, msg.Errors...)
	}

	payload, ok := structuredPayload(msg.StructuredOutput)
	if !ok && success {
		if parsed, err := agent.ParseOutput(msg.Result); err == nil {
			payload, ok = parsed, true
		} else {
			log.Debug().Err(err).Msg("claude: result text carried no agent output")
			errs = append(errs, "Agent returned no structured output")
		}
	}

	var out model.AgentOutput
	if ok {
		out = payload
		out.Errors = append(errs, payload.Errors...)
		return out
	}

	out.Errors = errs
	if msg.CapacityExhausted() {
		out.EscalationNeeded = true
		out.EscalationReason = escalationReason(msg)
		salvaged, err := agent.ParseOutput(lastText)
		if err != nil {
			log.Debug().Err(err).Msg("claude: nothing to salvage from last assistant message")
			return out
		}
		out.Findings = salvaged.Findings
		out.MemoryUpdates = salvaged.MemoryUpdates
		out.Errors = append(out.Errors, salvaged.Errors...)
		if salvaged.EscalationReason != "" {
			out.EscalationReason += " Agent note: " + salvaged.EscalationReason
		}
	}
	return out
}

func structuredPayload(raw json.RawMessage) (model.AgentOutput, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return model.AgentOutput{}, false
	}
	var out model.AgentOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Debug().Err(err).Msg("claude: malformed structured output")
		return model.AgentOutput{}, false
	}
	return out, true
}

func escalationReason(msg Message) string {
	if msg.Subtype == SubtypeErrorMaxBudgetUSD {
		return "Agent exhausted its budget before finishing; the result is partial. Re-run with a larger budget or a stronger model."
	}
	return fmt.Sprintf("Agent hit its turn limit after %d turns before finishing; the result is partial. Re-run with a larger max_turns.", msg.NumTurns)
}
