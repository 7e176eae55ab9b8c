// Package openai implements llm.Provider over any OpenAI-compatible chat completions endpoint.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/llm"
)

const providerName = "openai"

// Config holds connection settings for a chat model.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Provider talks to a chat completions endpoint.
type Provider struct {
	client    *goopenai.Client
	model     string
	maxTokens int
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider creates a provider; an empty model is a configuration error.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: openai chat model not configured", domain.ErrProviderUnavailable)
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Provider{
		client:    goopenai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *Provider) Name() string  { return providerName }
func (p *Provider) Model() string { return p.model }

// Complete sends one chat completion and decodes the first choice into blocks.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	chatReq := goopenai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toMessages(req),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	switch req.Effort {
	case llm.EffortNone:
		chatReq.MaxTokens = maxTokens
	case llm.EffortLow, llm.EffortMedium:
		chatReq.ReasoningEffort = string(req.Effort)
		chatReq.MaxCompletionTokens = maxTokens
	default:
		return nil, fmt.Errorf("%w: unsupported effort %q", domain.ErrInvalidRequest, req.Effort)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.ProviderError{Provider: providerName, Err: err}
	}

	return decode(resp), nil
}

func toMessages(req llm.Request) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

func decode(resp goopenai.ChatCompletionResponse) *llm.Response {
	raw, _ := json.Marshal(resp)
	out := &llm.Response{
		Provider: providerName,
		Model:    resp.Model,
		Raw:      string(raw),
	}
	if resp.Usage.CompletionTokens > 0 {
		tokens := int64(resp.Usage.CompletionTokens)
		out.OutputTokens = &tokens
	}
	if len(resp.Choices) == 0 {
		return out
	}

	msg := resp.Choices[0].Message
	if msg.ReasoningContent != "" {
		out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockThinking, Text: msg.ReasoningContent})
	}
	if msg.Content != "" {
		out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockText, Text: msg.Content})
	}
	for _, part := range msg.MultiContent {
		if part.Type == goopenai.ChatMessagePartTypeText {
			out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockText, Text: part.Text})
			continue
		}
		out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockUnknown, RawType: string(part.Type)})
	}
	for _, call := range msg.ToolCalls {
		out.Blocks = append(out.Blocks, llm.ContentBlock{
			Kind:     llm.BlockToolUse,
			ToolName: call.Function.Name,
			Input:    call.Function.Arguments,
		})
	}
	return out
}
