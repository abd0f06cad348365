package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/generation"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/search"
)

type stubRetriever struct {
	passages []models.Passage
	err      error
	calls    int
	last     search.Options
}

func (r *stubRetriever) Options(k int, book string) search.Options {
	return search.Options{K: k, MinScore: 0.3, Book: book}
}

func (r *stubRetriever) RetrieveWith(_ context.Context, _ string, opts search.Options) ([]models.Passage, error) {
	r.calls++
	r.last = opts
	return r.passages, r.err
}

type reply struct {
	text string
	err  error
}

// scriptedGenerator returns replies in order, repeating the last one.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
	opts    []generation.Options
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, opts generation.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := min(len(g.prompts), len(g.replies)-1)
	g.prompts = append(g.prompts, prompt)
	g.opts = append(g.opts, opts)
	return g.replies[i].text, g.replies[i].err
}

func (g *scriptedGenerator) Model() string { return "scripted" }

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func testConfig() config.AnswerConfig {
	return config.AnswerConfig{
		Timeout:         5 * time.Second,
		MaxContextChars: 24000,
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2,
		},
	}
}

var heatPassages = []models.Passage{
	{ChunkID: "d1#2", DocumentID: "d1", Title: "Heat Exchangers 101", Page: 3, Score: 0.8,
		Text: "A shell-and-tube heat exchanger passes one fluid through the tubes."},
	{ChunkID: "d1#3", DocumentID: "d1", Title: "Heat Exchangers 101", Page: 3, Score: 0.6,
		Text: "Baffles direct the shell-side flow across the tube bundle."},
	{ChunkID: "d2#9", DocumentID: "d2", Title: "Distillation Design", Page: 9, Score: 0.5,
		Text: "Kettle reboilers are shell-and-tube exchangers."},
}

func transient(msg string) error {
	return &errs.GenerationError{Kind: errs.GenerationTransient, Provider: "test", Err: errors.New(msg)}
}

func permanent(msg string) error {
	return &errs.GenerationError{Kind: errs.GenerationPermanent, Provider: "test", Err: errors.New(msg)}
}

func TestAsk_Grounded(t *testing.T) {
	r := &stubRetriever{passages: heatPassages}
	g := &scriptedGenerator{replies: []reply{{text: "Shell-and-tube exchangers [Source 1]."}}}
	o := NewOrchestrator(r, g, testConfig(), WithMaxTokens(512))

	ans, err := o.Ask(context.Background(), models.Question{Text: "  How does a shell-and-tube exchanger work? ", Book: "heat", TopK: 4})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Mode != models.ModeGrounded || ans.Status != models.StatusOK || ans.Failed() {
		t.Fatalf("got mode=%s status=%s", ans.Mode, ans.Status)
	}
	if ans.Text != "Shell-and-tube exchangers [Source 1]." || ans.Attempts != 1 || ans.ID == "" {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if ans.Question != "How does a shell-and-tube exchanger work?" {
		t.Errorf("question not trimmed: %q", ans.Question)
	}
	if r.last.K != 4 || r.last.Book != "heat" {
		t.Errorf("retrieval options not passed through: %+v", r.last)
	}

	prompt := g.prompts[0]
	for i, p := range heatPassages {
		if !strings.Contains(prompt, p.Text) {
			t.Errorf("prompt missing passage %d verbatim", i)
		}
	}
	if !strings.Contains(prompt, "[Source 1] Heat Exchangers 101, page 3") ||
		!strings.Contains(prompt, "[Source 3] Distillation Design, page 9") {
		t.Errorf("prompt missing source headings:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "Question: How does a shell-and-tube exchanger work?\n") {
		t.Errorf("prompt should end with the question:\n%s", prompt)
	}
	if g.opts[0].Mode != models.ModeGrounded || g.opts[0].MaxTokens != 512 {
		t.Errorf("generation options: %+v", g.opts[0])
	}

	want := []models.Citation{{Title: "Heat Exchangers 101", Page: 3}, {Title: "Distillation Design", Page: 9}}
	if len(ans.Citations) != len(want) {
		t.Fatalf("citations=%v, want %v", ans.Citations, want)
	}
	for i := range want {
		if ans.Citations[i] != want[i] {
			t.Errorf("citation %d = %v, want %v", i, ans.Citations[i], want[i])
		}
	}
	if len(ans.Sources) != 2 || ans.Sources[0].Preview != heatPassages[0].Text || ans.Sources[0].Score != 0.8 {
		t.Errorf("sources: %+v", ans.Sources)
	}
}

func TestAsk_EmptyRetrievalFallsBackToGeneral(t *testing.T) {
	r := &stubRetriever{}
	g := &scriptedGenerator{replies: []reply{{text: "Paris."}}}
	o := NewOrchestrator(r, g, testConfig())

	ans, err := o.Ask(context.Background(), models.Question{Text: "What is the capital of France?"})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Mode != models.ModeGeneral || ans.Text != "Paris." {
		t.Fatalf("got %+v", ans)
	}
	if ans.Citations == nil || len(ans.Citations) != 0 || len(ans.Sources) != 0 {
		t.Errorf("general answer should have empty citations: %+v", ans)
	}
	if g.prompts[0] != "What is the capital of France?" {
		t.Errorf("general prompt should be the question only, got %q", g.prompts[0])
	}
	if g.opts[0].Mode != models.ModeGeneral {
		t.Errorf("mode passed to generator: %s", g.opts[0].Mode)
	}
}

func TestAsk_GeneralModeSkipsRetrieval(t *testing.T) {
	r := &stubRetriever{passages: heatPassages}
	g := &scriptedGenerator{replies: []reply{{text: "From general knowledge."}}}
	o := NewOrchestrator(r, g, testConfig())

	ans, err := o.Ask(context.Background(), models.Question{Text: "What is a heat exchanger?", Mode: models.ModeGeneral})
	if err != nil {
		t.Fatal(err)
	}
	if r.calls != 0 {
		t.Errorf("retriever called %d times", r.calls)
	}
	if ans.Mode != models.ModeGeneral || len(ans.Citations) != 0 {
		t.Errorf("got %+v", ans)
	}
}

func TestAsk_PermanentFailureIsNotRetried(t *testing.T) {
	g := &scriptedGenerator{replies: []reply{{err: permanent("API key not valid")}}}
	o := NewOrchestrator(&stubRetriever{passages: heatPassages}, g, testConfig())

	ans, err := o.Ask(context.Background(), models.Question{Text: "shell-and-tube?"})
	var ge *errs.GenerationError
	if !errors.As(err, &ge) || ge.Transient() {
		t.Fatalf("expected permanent GenerationError, got %v", err)
	}
	if g.calls() != 1 || ans.Attempts != 1 {
		t.Errorf("calls=%d attempts=%d, want 1", g.calls(), ans.Attempts)
	}
	if !ans.Failed() || ans.Text != "" || ans.Reason == "" || ans.Mode != models.ModeGrounded {
		t.Errorf("unexpected failed answer: %+v", ans)
	}
	if len(ans.Citations) != 0 {
		t.Errorf("failed answer should carry no citations: %v", ans.Citations)
	}
}

func TestAsk_TransientFailureIsBounded(t *testing.T) {
	g := &scriptedGenerator{replies: []reply{{err: transient("503 overloaded")}}}
	o := NewOrchestrator(&stubRetriever{}, g, testConfig())

	ans, err := o.Ask(context.Background(), models.Question{Text: "anything"})
	if !errs.IsTransientGeneration(err) {
		t.Fatalf("expected transient GenerationError, got %v", err)
	}
	if g.calls() != 3 || ans.Attempts != 3 {
		t.Errorf("calls=%d attempts=%d, want 3", g.calls(), ans.Attempts)
	}
	if !ans.Failed() || ans.Mode != models.ModeGeneral || !strings.Contains(ans.Reason, "overloaded") {
		t.Errorf("unexpected failed answer: %+v", ans)
	}
}

func TestAsk_TransientThenSuccess(t *testing.T) {
	g := &scriptedGenerator{replies: []reply{{err: transient("429 rate limit")}, {text: "ok"}}}
	o := NewOrchestrator(&stubRetriever{}, g, testConfig())

	ans, err := o.Ask(context.Background(), models.Question{Text: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "ok" || ans.Attempts != 2 {
		t.Errorf("got %+v", ans)
	}
}

func TestAsk_EmptyGenerationFails(t *testing.T) {
	g := &scriptedGenerator{replies: []reply{{text: "  \n"}}}
	o := NewOrchestrator(&stubRetriever{}, g, testConfig())

	ans, err := o.Ask(context.Background(), models.Question{Text: "anything"})
	var ge *errs.GenerationError
	if !errors.As(err, &ge) || ge.Transient() || !errors.Is(err, generation.ErrEmptyResponse) {
		t.Fatalf("expected permanent empty-response error, got %v", err)
	}
	if !ans.Failed() || ans.Text != "" || g.calls() != 1 {
		t.Errorf("got %+v after %d calls", ans, g.calls())
	}
}

func TestAsk_ContextBudgetKeepsFirstPassage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextChars = 10
	g := &scriptedGenerator{replies: []reply{{text: "ok"}}}
	o := NewOrchestrator(&stubRetriever{passages: heatPassages}, g, cfg)

	ans, err := o.Ask(context.Background(), models.Question{Text: "shell-and-tube?"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(g.prompts[0], heatPassages[0].Text) || strings.Contains(g.prompts[0], heatPassages[1].Text) {
		t.Errorf("expected only the first passage in the prompt:\n%s", g.prompts[0])
	}
	if len(ans.Citations) != 1 || ans.Citations[0].Title != "Heat Exchangers 101" {
		t.Errorf("citations should match included passages: %v", ans.Citations)
	}
}

func TestAsk_RetrievalError(t *testing.T) {
	r := &stubRetriever{err: search.ErrIndexNotReady}
	g := &scriptedGenerator{replies: []reply{{text: "never"}}}
	o := NewOrchestrator(r, g, testConfig())

	ans, err := o.Ask(context.Background(), models.Question{Text: "anything"})
	if !errors.Is(err, search.ErrIndexNotReady) {
		t.Fatalf("expected ErrIndexNotReady, got %v", err)
	}
	if ans == nil || !ans.Failed() || !strings.Contains(ans.Reason, "index not ready") {
		t.Errorf("got %+v", ans)
	}
	if g.calls() != 0 {
		t.Error("generator should not be called after a retrieval error")
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	o := NewOrchestrator(&stubRetriever{}, &scriptedGenerator{replies: []reply{{text: "x"}}}, testConfig())
	if _, err := o.Ask(context.Background(), models.Question{Text: " \t"}); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestAsk_ObserverSeesTransitions(t *testing.T) {
	tests := []struct {
		name     string
		r        *stubRetriever
		q        models.Question
		g        *scriptedGenerator
		expected []State
	}{
		{"grounded", &stubRetriever{passages: heatPassages}, models.Question{Text: "q"},
			&scriptedGenerator{replies: []reply{{text: "a"}}},
			[]State{StateReceived, StateRetrieving, StateGrounded, StateAnswered}},
		{"ungrounded", &stubRetriever{}, models.Question{Text: "q"},
			&scriptedGenerator{replies: []reply{{text: "a"}}},
			[]State{StateReceived, StateRetrieving, StateUngrounded, StateAnswered}},
		{"general", &stubRetriever{}, models.Question{Text: "q", Mode: models.ModeGeneral},
			&scriptedGenerator{replies: []reply{{text: "a"}}},
			[]State{StateReceived, StateUngrounded, StateAnswered}},
		{"failed", &stubRetriever{}, models.Question{Text: "q"},
			&scriptedGenerator{replies: []reply{{err: permanent("bad request")}}},
			[]State{StateReceived, StateRetrieving, StateUngrounded, StateFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []State
			var prev State
			o := NewOrchestrator(tt.r, tt.g, testConfig(), WithObserver(func(_ models.Question, from, to State) {
				if from != prev {
					t.Errorf("transition %s -> %s, previous state was %s", from, to, prev)
				}
				prev = to
				got = append(got, to)
			}))
			_, _ = o.Ask(context.Background(), tt.q)
			if len(got) != len(tt.expected) {
				t.Fatalf("got %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("state %d = %s, want %s", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

// blockingGenerator waits for the context and reports a transient failure.
type blockingGenerator struct{ calls int }

func (g *blockingGenerator) Generate(ctx context.Context, _ string, _ generation.Options) (string, error) {
	g.calls++
	<-ctx.Done()
	return "", &errs.GenerationError{Kind: errs.GenerationTransient, Err: ctx.Err()}
}

func (g *blockingGenerator) Model() string { return "blocking" }

func TestAsk_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	g := &blockingGenerator{}
	o := NewOrchestrator(&stubRetriever{}, g, cfg)

	start := time.Now()
	ans, err := o.Ask(context.Background(), models.Question{Text: "anything"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !ans.Failed() {
		t.Error("answer should be failed")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Ask took %v, timeout not honoured", elapsed)
	}
}
