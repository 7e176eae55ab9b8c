package service

import (
	"context"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/llm"
)

// Synthesizer runs the two model calls that turn retrieved context into a document.
type Synthesizer struct {
	summarizer        llm.Provider
	primary           llm.Provider
	retry             RetryPolicy
	summarizeTimeout  time.Duration
	synthesizeTimeout time.Duration
	logger            *zap.Logger
}

// NewSynthesizer creates a synthesizer. Either provider may be nil, in which
// case Ready reports the stage as unconfigured.
func NewSynthesizer(summarizer, primary llm.Provider, retry RetryPolicy, summarizeTimeout, synthesizeTimeout time.Duration, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		summarizer:        summarizer,
		primary:           primary,
		retry:             retry,
		summarizeTimeout:  summarizeTimeout,
		synthesizeTimeout: synthesizeTimeout,
		logger:            logger,
	}
}

// Ready returns a SynthesisError for the first unconfigured provider.
func (s *Synthesizer) Ready() error {
	if s.summarizer == nil {
		return &domain.SynthesisError{Stage: domain.StageSummarize, Err: domain.ErrProviderUnavailable}
	}
	if s.primary == nil {
		return &domain.SynthesisError{Stage: domain.StageSynthesize, Err: domain.ErrProviderUnavailable}
	}
	return nil
}

// SynthesisInput is everything both prompts are built from.
type SynthesisInput struct {
	Session         *domain.TrainingSession
	Template        *domain.PromptTemplate
	Query           string
	AdditionalFacts string
	Context         string
	Effort          llm.Effort
}

// SynthesisOutput is the final text and the bookkeeping the run record needs.
type SynthesisOutput struct {
	Summary         string
	Content         string
	Model           string
	SummarizerModel string
	OutputTokens    *int64
}

// Synthesize summarizes the context, then asks the primary model for the analysis.
// A failure in either call discards everything produced so far.
func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (*SynthesisOutput, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}

	data := promptData{
		Domain:          in.Session.Domain.Label(),
		Instructions:    in.Template.Instructions,
		Title:           in.Session.Title,
		Objective:       in.Session.Objective,
		Query:           in.Query,
		AdditionalFacts: in.AdditionalFacts,
		Context:         in.Context,
	}

	summary, _, err := s.call(ctx, domain.StageSummarize, s.summarizer, s.summarizeTimeout, summarizerSystemTmpl, summarizerUserTmpl, data, llm.EffortNone)
	if err != nil {
		return nil, err
	}

	data.Summary = summary
	content, tokens, err := s.call(ctx, domain.StageSynthesize, s.primary, s.synthesizeTimeout, primarySystemTmpl, primaryUserTmpl, data, in.Effort)
	if err != nil {
		return nil, err
	}

	return &SynthesisOutput{
		Summary:         summary,
		Content:         content,
		Model:           s.primary.Model(),
		SummarizerModel: s.summarizer.Model(),
		OutputTokens:    tokens,
	}, nil
}

func (s *Synthesizer) call(
	ctx context.Context,
	stage domain.SynthesisStage,
	provider llm.Provider,
	timeout time.Duration,
	systemTmpl, userTmpl *template.Template,
	data promptData,
	effort llm.Effort,
) (string, *int64, error) {
	system, err := render(systemTmpl, data)
	if err != nil {
		return "", nil, &domain.SynthesisError{Stage: stage, Err: err}
	}
	user, err := render(userTmpl, data)
	if err != nil {
		return "", nil, &domain.SynthesisError{Stage: stage, Err: err}
	}

	req := llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: user}},
		Effort:   effort,
	}

	type reply struct {
		text   string
		tokens *int64
	}
	r, err := retryCall(ctx, s.retry, timeout, s.logger, string(stage), func(ctx context.Context) (reply, error) {
		resp, err := provider.Complete(ctx, req)
		if err != nil {
			return reply{}, err
		}
		text, err := resp.FirstText()
		if err != nil {
			return reply{}, err
		}
		return reply{text: text, tokens: resp.OutputTokens}, nil
	})
	if err != nil {
		return "", nil, &domain.SynthesisError{Stage: stage, Err: fmt.Errorf("%s (%s): %w", provider.Name(), provider.Model(), err)}
	}
	return r.text, r.tokens, nil
}
