// Package anthropic adapts the official Anthropic SDK to the generator
// contract.
package anthropic

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/studyhall-ai/studyhall/generate"
)

// Config holds Anthropic generator configuration.
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
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   2000,
		Temperature: 0.3,
	}
}

// Generator implements generate.Generator over the Messages API.
type Generator struct {
	cfg    Config
	client anthropicsdk.Client
}

// New creates an Anthropic generator using the official SDK.
func New(cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Generator{cfg: cfg, client: anthropicsdk.NewClient(opts...)}
}

// params splits system messages from the conversation, which the Messages
// API keeps separate.
func (g *Generator) params(messages []generate.Message) anthropicsdk.MessageNewParams {
	var system []string
	conversation := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case generate.RoleSystem:
			system = append(system, msg.Content)
		case generate.RoleAssistant:
			conversation = append(conversation,
				anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		default:
			conversation = append(conversation,
				anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(g.cfg.Model),
		Messages:  conversation,
		MaxTokens: g.cfg.MaxTokens,
	}
	if len(system) > 0 {
		params.System = []anthropicsdk.TextBlockParam{{Text: strings.Join(system, "\n")}}
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(g.cfg.Temperature)
	}
	return params
}

// Complete implements generate.Generator.
func (g *Generator) Complete(ctx context.Context, messages []generate.Message) (string, error) {
	msg, err := g.client.Messages.New(ctx, g.params(messages))
	if err != nil {
		return "", classify(err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// Stream implements generate.Generator.
func (g *Generator) Stream(ctx context.Context, messages []generate.Message) iter.Seq2[generate.Chunk, error] {
	return func(yield func(generate.Chunk, error) bool) {
		stream := g.client.Messages.NewStreaming(ctx, g.params(messages))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
					if !yield(generate.Chunk{Content: delta.Delta.Text}, nil) {
						return
					}
				}
			case "message_delta":
				md := event.AsMessageDelta()
				if md.Delta.StopReason == "max_tokens" {
					if !yield(generate.Chunk{FinishReason: generate.FinishLength}, nil) {
						return
					}
				}
			case "message_stop":
				yield(generate.Chunk{FinishReason: generate.FinishStop}, nil)
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
	_, err := g.client.Models.List(ctx, anthropicsdk.ModelListParams{})
	return err == nil
}

func classify(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return generate.NewError(generate.KindRateLimit, err)
		case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
			return generate.NewError(generate.KindServiceUnavailable, err)
		case http.StatusNotFound:
			return generate.NewError(generate.KindModelNotFound, err)
		case http.StatusBadRequest:
			if strings.Contains(strings.ToLower(err.Error()), "token") {
				return generate.NewError(generate.KindContextLength, err)
			}
		}
	}
	return generate.Classify(err)
}
