// Package anthropic implements llm.Provider over the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/llm"
)

const providerName = "anthropic"

// Config holds connection settings for a Messages model.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Provider calls the Messages API.
type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider creates a provider. Retries are left to the caller.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: anthropic model not configured", domain.ErrProviderUnavailable)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key not configured", domain.ErrProviderUnavailable)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Provider{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

func (p *Provider) Name() string  { return providerName }
func (p *Provider) Model() string { return p.model }

// Complete sends one message request. Effort enables extended thinking with a
// budget from llm.ThinkingBudget.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	messages, err := toMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if budget := llm.ThinkingBudget(req.Effort); budget > 0 {
		// max_tokens must exceed the thinking budget
		if params.MaxTokens <= budget {
			params.MaxTokens = budget + maxTokens
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(budget)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.ProviderError{Provider: providerName, Err: err}
	}

	return decode(msg), nil
}

func toMessages(in []llm.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case llm.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case llm.RoleSystem:
			return nil, fmt.Errorf("%w: system text goes in Request.System", domain.ErrInvalidRequest)
		default:
			return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidRequest, m.Role)
		}
	}
	return out, nil
}

func decode(msg *sdk.Message) *llm.Response {
	tokens := msg.Usage.OutputTokens
	out := &llm.Response{
		Provider:     providerName,
		Model:        string(msg.Model),
		OutputTokens: &tokens,
		Raw:          msg.RawJSON(),
	}

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockText, Text: b.Text})
		case sdk.ThinkingBlock:
			out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockThinking, Text: b.Thinking})
		case sdk.RedactedThinkingBlock:
			out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockThinking})
		case sdk.ToolUseBlock:
			out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockToolUse, ToolName: b.Name, Input: string(b.Input)})
		default:
			out.Blocks = append(out.Blocks, llm.ContentBlock{Kind: llm.BlockUnknown, RawType: block.Type})
		}
	}
	return out
}
