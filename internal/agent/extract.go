package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/metalagman/steward/internal/model"
)

// ErrNoJSON is returned when text carries no JSON object.
var ErrNoJSON = errors.New("no json object found")

// ExtractJSON finds a JSON object embedded in free-form text. Fenced code
// blocks are searched first, then balanced-brace spans from left to right.
func ExtractJSON(text string) (string, bool) {
	for _, block := range fencedBlocks(text) {
		block = strings.TrimSpace(block)
		if strings.HasPrefix(block, "{") && json.Valid([]byte(block)) {
			return block, true
		}
	}
	for i := 0; i < len(text); {
		open := strings.IndexByte(text[i:], '{')
		if open < 0 {
			break
		}
		spans, next := braceSpans(text, i+open)
		for _, sp := range spans {
			candidate := text[sp.start : sp.end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		i = next
	}
	return "", false
}

// ParseOutput extracts and decodes an AgentOutput from text.
func ParseOutput(text string) (model.AgentOutput, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return model.AgentOutput{}, ErrNoJSON
	}
	var out model.AgentOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return model.AgentOutput{}, fmt.Errorf("decode agent output: %w", err)
	}
	return out, nil
}

func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			return blocks
		}
		rest = rest[open+3:]
		// Skip the language tag.
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return blocks
		}
		body := rest[nl+1:]
		closing := strings.Index(body, "```")
		if closing < 0 {
			return blocks
		}
		blocks = append(blocks, body[:closing])
		rest = body[closing+3:]
	}
}

type span struct {
	start, end int
}

// braceSpans scans from the brace at start until it closes or the text ends
// and returns every balanced span opened on the way, ordered by start. Braces
// inside JSON strings are ignored. next is where scanning should resume, so
// each byte is visited once even when the outer brace never closes.
func braceSpans(text string, start int) (spans []span, next int) {
	var stack []int
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, len(spans))
			spans = append(spans, span{start: i, end: -1})
		case '}':
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			spans[top].end = i
			if len(stack) == 0 {
				return closed(spans), i + 1
			}
		}
	}
	return closed(spans), len(text)
}

func closed(spans []span) []span {
	out := spans[:0]
	for _, sp := range spans {
		if sp.end >= 0 {
			out = append(out, sp)
		}
	}
	return out
}
