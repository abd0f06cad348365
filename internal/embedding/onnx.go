//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/pkg/utils"
)

var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"output"}
)

// ONNXEmbedder runs a sentence-embedding model with ONNX Runtime. It needs cgo
// and the onnxruntime shared library. The session is bound to one set of
// tensors, so inference is serialized.
type ONNXEmbedder struct {
	model         string
	dimensions    int
	maxTokens     int
	maxInputChars int
	tokenizer     Tokenizer

	mu      sync.Mutex
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[int64] // input_ids, attention_mask, token_type_ids
	output  *ort.Tensor[float32]
}

// NewONNXEmbedder loads the model at modelPath. model names the embedder in
// the index state; text beyond maxTokens words is cut by the tokenizer.
func NewONNXEmbedder(modelPath, model string, dimensions, maxTokens, maxInputChars int) (*ONNXEmbedder, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	e := &ONNXEmbedder{
		model:         model,
		dimensions:    dimensions,
		maxTokens:     maxTokens,
		maxInputChars: maxInputChars,
		tokenizer:     &SimpleTokenizer{},
	}

	inputShape := ort.NewShape(1, int64(maxTokens))
	for _, name := range onnxInputNames {
		t, err := ort.NewEmptyTensor[int64](inputShape)
		if err != nil {
			e.release()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		e.inputs = append(e.inputs, t)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		e.release()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	e.output = out

	in := make([]ort.ArbitraryTensor, len(e.inputs))
	for i, t := range e.inputs {
		in[i] = t
	}
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames,
		in, []ort.ArbitraryTensor{e.output}, nil)
	if err != nil {
		e.release()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	e.session = session
	return e, nil
}

// Embed tokenizes text, runs the model and returns the normalized output.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := CheckInput(text, e.maxInputChars); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &errs.EmbeddingError{Kind: errs.EmbeddingUnavailable, Err: err}
	}

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, &errs.EmbeddingError{Kind: errs.EmbeddingUnavailable, Err: fmt.Errorf("onnx embedder is closed")}
	}
	for i, data := range [][]int64{ids, mask, types} {
		copy(e.inputs[i].GetData(), data)
	}
	if err := e.session.Run(); err != nil {
		return nil, &errs.EmbeddingError{Kind: errs.EmbeddingUnavailable, Err: fmt.Errorf("onnx inference: %w", err)}
	}

	vec := make([]float32, e.dimensions)
	copy(vec, e.output.GetData())
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts one at a time; the session has batch size 1.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

func (e *ONNXEmbedder) Model() string { return "onnx/" + e.model }

func (e *ONNXEmbedder) MaxInputChars() int { return e.maxInputChars }

// Close destroys the session and its tensors. Embed fails afterwards.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.release()
}

func (e *ONNXEmbedder) release() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range e.inputs {
		_ = t.Destroy()
	}
	e.inputs = nil
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
	return err
}
