// Package openai adapts the official OpenAI SDK to the generator contract.
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/studyhall-ai/studyhall/generate"
)

// Config holds OpenAI generator configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns the generator defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.3,
	}
}

// Generator implements generate.Generator over chat completions.
type Generator struct {
	cfg    Config
	client openaisdk.Client
}

// New creates an OpenAI generator using the official SDK.
func New(cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Generator{cfg: cfg, client: openaisdk.NewClient(opts...)}
}

func (g *Generator) params(messages []generate.Message) openaisdk.ChatCompletionNewParams {
	converted := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case generate.RoleSystem:
			converted = append(converted, openaisdk.SystemMessage(msg.Content))
		case generate.RoleAssistant:
			converted = append(converted, openaisdk.AssistantMessage(msg.Content))
		default:
			converted = append(converted, openaisdk.UserMessage(msg.Content))
		}
	}
	params := openaisdk.ChatCompletionNewParams{
		Messages: converted,
		Model:    openaisdk.ChatModel(g.cfg.Model),
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(g.cfg.Temperature)
	}
	if g.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(g.cfg.MaxTokens)
	}
	return params
}

// Complete implements generate.Generator.
func (g *Generator) Complete(ctx context.Context, messages []generate.Message) (string, error) {
	completion, err := g.client.Chat.Completions.New(ctx, g.params(messages))
	if err != nil {
		return "", classify(err)
	}
	if len(completion.Choices) == 0 {
		return "", generate.NewError(generate.KindUnknown, fmt.Errorf("no choices returned"))
	}
	return completion.Choices[0].Message.Content, nil
}

// Stream implements generate.Generator.
func (g *Generator) Stream(ctx context.Context, messages []generate.Message) iter.Seq2[generate.Chunk, error] {
	return func(yield func(generate.Chunk, error) bool) {
		stream := g.client.Chat.Completions.NewStreaming(ctx, g.params(messages))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if len(event.Choices) == 0 {
				continue
			}
			choice := event.Choices[0]
			chunk := generate.Chunk{Content: choice.Delta.Content}
			switch choice.FinishReason {
			case "stop":
				chunk.FinishReason = generate.FinishStop
			case "length":
				chunk.FinishReason = generate.FinishLength
			}
			if chunk.Content == "" && chunk.FinishReason == generate.FinishNone {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(generate.Chunk{}, classify(err))
		}
	}
}

// Health probes the API with a models listing.
func (g *Generator) Health(ctx context.Context) bool {
	_, err := g.client.Models.List(ctx)
	return err == nil
}

// classify maps SDK errors onto the generator error kinds, preferring the
// HTTP status when one is present.
func classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return generate.NewError(generate.KindRateLimit, err)
		case http.StatusServiceUnavailable, http.StatusBadGateway:
			return generate.NewError(generate.KindServiceUnavailable, err)
		case http.StatusNotFound:
			return generate.NewError(generate.KindModelNotFound, err)
		case http.StatusBadRequest:
			if strings.Contains(strings.ToLower(err.Error()), "context") {
				return generate.NewError(generate.KindContextLength, err)
			}
		}
	}
	return generate.Classify(err)
}
