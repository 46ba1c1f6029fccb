// Package ai wraps the language model that turns a prompt into advice.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var (
	// ErrUpstream wraps transport and API failures of the model call.
	ErrUpstream = errors.New("ai: upstream call failed")
	// ErrMalformedResponse reports a reply without usable text.
	ErrMalformedResponse = errors.New("ai: malformed response")
)

// Completer produces a completion for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	// Model identifies the model; it is part of the cache fingerprint.
	Model() string
}

// Sampling holds the fixed generation parameters.
type Sampling struct {
	Temperature     float32
	TopP            float32
	MaxOutputTokens int32
}

// GeminiClient calls a Gemini model through generative-ai-go.
type GeminiClient struct {
	client   *genai.Client
	model    string
	sampling Sampling

	// generate is swapped in tests.
	generate func(ctx context.Context, system, user string) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient connects with the given API key.
func NewGeminiClient(ctx context.Context, apiKey, model string, s Sampling, opts ...option.ClientOption) (*GeminiClient, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g := &GeminiClient{client: client, model: model, sampling: s}
	g.generate = g.callModel
	return g, nil
}

// Close releases the underlying client.
func (g *GeminiClient) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Model implements Completer.
func (g *GeminiClient) Model() string { return g.model }

// Complete implements Completer.
func (g *GeminiClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := g.generate(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return responseText(resp)
}

func (g *GeminiClient) callModel(ctx context.Context, system, user string) (*genai.GenerateContentResponse, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(g.sampling.Temperature)
	m.SetTopP(g.sampling.TopP)
	m.SetMaxOutputTokens(g.sampling.MaxOutputTokens)
	if strings.TrimSpace(system) != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	return m.GenerateContent(ctx, genai.Text(user))
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrMalformedResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrMalformedResponse, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrMalformedResponse)
	}
	return text, nil
}
