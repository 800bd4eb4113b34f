// Package genaiapi runs agents as a single model call through the Gemini API.
package genaiapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/model"
)

// DefaultModel is used when neither the spawn config nor its envelope name one.
const DefaultModel = "gemini-2.5-flash"

// ErrNoAPIKey is returned by NewClient without a key.
var ErrNoAPIKey = errors.New("gemini api key is not configured")

// Request is one generation call.
type Request struct {
	Model     string
	System    string
	Input     string
	MaxTokens int
}

// Generator produces the text of a model response.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Client is a Generator backed by the genai SDK.
type Client struct {
	client *genai.Client
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: c}, nil
}

// Generate asks for a JSON response.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Input, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// Strategy executes agents with execution_type "api".
type Strategy struct {
	Generator Generator
}

// Execute sends the agent prompt as system instruction and the run context
// as input, then parses the reply.
func (s Strategy) Execute(ctx context.Context, cfg model.AgentSpawnConfig, rc agent.RunContext) (model.AgentOutput, error) {
	if s.Generator == nil {
		return model.AgentOutput{}, ErrNoAPIKey
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = cfg.Permissions.Model
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	rc.Report("api: " + modelName)
	text, err := s.Generator.Generate(ctx, Request{
		Model:     modelName,
		System:    rc.Prompt,
		Input:     agent.BuildPrompt(cfg, agent.RunContext{Agent: rc.Agent, CycleID: rc.CycleID, Trigger: rc.Trigger, BasePath: rc.BasePath}),
		MaxTokens: cfg.Permissions.MaxTokens,
	})
	if err != nil {
		return model.AgentOutput{}, err
	}
	out, err := agent.ParseOutput(text)
	if err != nil {
		return model.AgentOutput{}, fmt.Errorf("parse %s response: %w", modelName, err)
	}
	return out, nil
}
