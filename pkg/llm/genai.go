// Package llm provides the Gemini-backed model client.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/agent"
)

// GenAIClient implements agent.ModelClient on top of the Google GenAI SDK.
// The model name on each request selects the backend model, so one client
// serves the whole fallback chain.
type GenAIClient struct {
	client *genai.Client
}

// NewGenAIClient creates a client using the given API key.
func NewGenAIClient(ctx context.Context, apiKey string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: API key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: creating genai client: %w", err)
	}
	return &GenAIClient{client: client}, nil
}

// Generate runs one completion. The caller bounds the call through ctx.
func (c *GenAIClient) Generate(ctx context.Context, req agent.GenerateRequest) (string, error) {
	genConfig := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != nil {
		genConfig.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)},
		genConfig)
	if err != nil {
		return "", fmt.Errorf("llm: generate with model %s: %w", req.Model, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("llm: model %s returned empty response", req.Model)
	}
	return text, nil
}
