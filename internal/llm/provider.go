// Package llm defines the chat completion contract shared by the summarizer
// and primary model providers, and the tagged content-block reply shape they
// decode into.
package llm

import (
	"context"
	"strings"

	"github.com/liliang-cn/ragsession/internal/domain"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat turn.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
	Effort    Effort
}

// BlockKind discriminates ContentBlock variants.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockThinking BlockKind = "thinking"
	BlockToolUse  BlockKind = "tool_use"
	BlockUnknown  BlockKind = "unknown"
)

// ContentBlock is one element of a model reply.
//
// Text is set for text and thinking blocks. ToolName and Input are set for
// tool_use blocks. RawType keeps the provider's own tag for unknown blocks.
type ContentBlock struct {
	Kind     BlockKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	ToolName string    `json:"tool_name,omitempty"`
	Input    string    `json:"input,omitempty"`
	RawType  string    `json:"raw_type,omitempty"`
}

// Response is a decoded model reply.
type Response struct {
	Provider     string
	Model        string
	Blocks       []ContentBlock
	OutputTokens *int64
	// Raw is the serialized provider reply, kept for diagnostics.
	Raw string
}

// FirstText returns the first non-empty text block.
func (r *Response) FirstText() (string, error) {
	for _, b := range r.Blocks {
		switch b.Kind {
		case BlockText:
			if strings.TrimSpace(b.Text) != "" {
				return b.Text, nil
			}
		case BlockThinking, BlockToolUse, BlockUnknown:
		default:
			return "", &domain.MalformedProviderResponseError{
				Provider: r.Provider,
				Reason:   "unrecognized block kind " + string(b.Kind),
				Raw:      r.Raw,
			}
		}
	}
	return "", &domain.MalformedProviderResponseError{
		Provider: r.Provider,
		Reason:   "reply contains no text block",
		Raw:      r.Raw,
	}
}

// Provider performs chat completions against one configured model.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (*Response, error)
}
