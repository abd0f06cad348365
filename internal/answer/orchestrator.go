// Package answer turns a question into an answer: it retrieves passages,
// chooses between a grounded and a general-knowledge answer, and calls the
// generator with bounded retries.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/generation"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/retry"
	"github.com/hyperjump/hondana/internal/search"
)

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// State is a step of answering one question.
type State string

const (
	StateReceived   State = "received"
	StateRetrieving State = "retrieving"
	StateGrounded   State = "grounded"
	StateUngrounded State = "ungrounded"
	StateAnswered   State = "answered"
	StateFailed     State = "failed"
)

// Observer is called on every state transition of a question.
type Observer func(q models.Question, from, to State)

// Retriever is the part of search.Retriever the orchestrator needs.
type Retriever interface {
	Options(k int, book string) search.Options
	RetrieveWith(ctx context.Context, query string, opts search.Options) ([]models.Passage, error)
}

// Orchestrator answers questions. It is safe for concurrent use.
type Orchestrator struct {
	retriever       Retriever
	generator       generation.Generator
	policy          retry.Policy
	timeout         time.Duration
	maxContextChars int
	maxTokens       int
	observer        Observer
	logger          *zap.Logger
	now             func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the state transition observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMaxTokens caps the generated answer length.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(r Retriever, g generation.Generator, cfg config.AnswerConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever: r,
		generator: g,
		policy: retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Multiplier:     cfg.Retry.Multiplier,
		},
		timeout:         cfg.Timeout,
		maxContextChars: cfg.MaxContextChars,
		logger:          zap.NewNop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask answers q. On a generation or retrieval failure it returns a failed
// Answer, which never carries generated text, together with the error.
func (o *Orchestrator) Ask(ctx context.Context, q models.Question) (*models.Answer, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, ErrEmptyQuestion
	}
	ans := &models.Answer{
		ID:        uuid.NewString(),
		Question:  q.Text,
		Citations: []models.Citation{},
	}
	state := StateReceived
	o.transition(q, "", state)
	move := func(to State) {
		o.transition(q, state, to)
		state = to
	}

	var passages []models.Passage
	if q.Mode != models.ModeGeneral {
		move(StateRetrieving)
		var err error
		passages, err = o.retriever.RetrieveWith(ctx, q.Text, o.retriever.Options(q.TopK, q.Book))
		if err != nil {
			ans.Mode = models.ModeGrounded
			o.fail(ans, fmt.Sprintf("retrieval failed: %v", err))
			move(StateFailed)
			return ans, fmt.Errorf("retrieve: %w", err)
		}
	}

	var prompt string
	if len(passages) > 0 {
		move(StateGrounded)
		ans.Mode = models.ModeGrounded
		var included []models.Passage
		prompt, included = groundedPrompt(q.Text, passages, o.maxContextChars)
		ans.Citations, ans.Sources = citations(included, search.PreviewLength, search.Preview)
	} else {
		move(StateUngrounded)
		ans.Mode = models.ModeGeneral
		prompt = generalPrompt(q.Text)
	}

	text, attempts, err := o.generate(ctx, prompt, ans.Mode)
	ans.Attempts = attempts
	if err != nil {
		ans.Citations = []models.Citation{}
		ans.Sources = nil
		o.fail(ans, err.Error())
		move(StateFailed)
		o.logger.Warn("answer failed",
			zap.String("id", ans.ID), zap.String("mode", string(ans.Mode)),
			zap.Int("attempts", attempts), zap.Error(err))
		return ans, err
	}

	ans.Text = text
	ans.Status = models.StatusOK
	ans.GeneratedAt = o.now()
	move(StateAnswered)
	o.logger.Debug("answered",
		zap.String("id", ans.ID), zap.String("mode", string(ans.Mode)),
		zap.Int("passages", len(passages)), zap.Int("citations", len(ans.Citations)),
		zap.Int("attempts", attempts))
	return ans, nil
}

// generate calls the generator under the answer timeout, retrying transient
// failures. A blank response counts as a permanent failure.
func (o *Orchestrator) generate(ctx context.Context, prompt string, mode models.Mode) (string, int, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	opts := generation.Options{Mode: mode, MaxTokens: o.maxTokens}

	var text string
	attempts, err := retry.Do(ctx, o.policy, errs.IsTransientGeneration, func(ctx context.Context) error {
		out, err := o.generator.Generate(ctx, prompt, opts)
		if err == nil && strings.TrimSpace(out) == "" {
			err = &errs.GenerationError{Kind: errs.GenerationPermanent, Err: generation.ErrEmptyResponse}
		}
		if err != nil {
			if errs.IsTransientGeneration(err) {
				o.logger.Warn("generation failed, retrying", zap.Error(err))
			}
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		var ge *errs.GenerationError
		if !errors.As(err, &ge) {
			err = &errs.GenerationError{Kind: errs.GenerationPermanent, Err: err}
		}
		return "", attempts, err
	}
	return text, attempts, nil
}

func (o *Orchestrator) fail(ans *models.Answer, reason string) {
	ans.Status = models.StatusFailed
	ans.Reason = reason
	ans.Text = ""
	ans.GeneratedAt = o.now()
}

func (o *Orchestrator) transition(q models.Question, from, to State) {
	if o.observer != nil {
		o.observer(q, from, to)
	}
}
