// Package gemini adapts the official Google generative AI SDK to the
// generator contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/studyhall-ai/studyhall/generate"
)

// Config holds Gemini generator configuration.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns the generator defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2000,
		Temperature: 0.3,
	}
}

// Generator implements generate.Generator over GenerateContent.
type Generator struct {
	cfg    Config
	client *genai.Client
}

var _ generate.Generator = (*Generator)(nil)

// New creates a Gemini generator. The client owns a connection; call Close
// when done.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Generator{cfg: cfg, client: client}, nil
}

// Close releases the underlying connection.
func (g *Generator) Close() error { return g.client.Close() }

// model builds the per-request model handle; system messages become the
// system instruction and the rest concatenate into the prompt.
func (g *Generator) model(messages []generate.Message) (*genai.GenerativeModel, []genai.Part) {
	model := g.client.GenerativeModel(g.cfg.Model)
	if g.cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(g.cfg.MaxTokens)
	}
	model.SetTemperature(g.cfg.Temperature)

	var system, user []string
	for _, msg := range messages {
		if msg.Role == generate.RoleSystem {
			system = append(system, msg.Content)
		} else {
			user = append(user, msg.Content)
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n"))},
		}
	}
	return model, []genai.Part{genai.Text(strings.Join(user, "\n"))}
}

// Complete implements generate.Generator.
func (g *Generator) Complete(ctx context.Context, messages []generate.Message) (string, error) {
	model, parts := g.model(messages)
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classify(err)
	}
	return responseText(resp), nil
}

// Stream implements generate.Generator.
func (g *Generator) Stream(ctx context.Context, messages []generate.Message) iter.Seq2[generate.Chunk, error] {
	return func(yield func(generate.Chunk, error) bool) {
		model, parts := g.model(messages)
		it := model.GenerateContentStream(ctx, parts...)
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				yield(generate.Chunk{FinishReason: generate.FinishStop}, nil)
				return
			}
			if err != nil {
				yield(generate.Chunk{}, classify(err))
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			chunk := generate.Chunk{Content: text}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
				chunk.FinishReason = generate.FinishLength
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Health probes the API by fetching the model's metadata.
func (g *Generator) Health(ctx context.Context) bool {
	_, err := g.client.GenerativeModel(g.cfg.Model).Info(ctx)
	return err == nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return generate.NewError(generate.KindRateLimit, err)
		case 503, 502:
			return generate.NewError(generate.KindServiceUnavailable, err)
		case 404:
			return generate.NewError(generate.KindModelNotFound, err)
		}
	}
	return generate.Classify(err)
}
