//go:build onnx

// Package onnx embeds text locally through ONNX Runtime with a BERT
// WordPiece tokenizer, targeting all-MiniLM-L6-v2 style sentence models.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

const maxSeqLen = 128

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the .onnx model file.
	ModelPath string

	// TokenizerPath is the tokenizer.json with the WordPiece vocab.
	TokenizerPath string

	// RuntimeLibrary optionally points at libonnxruntime.so. Empty uses
	// the runtime's default search path.
	RuntimeLibrary string

	// Dimensions is the embedding size. Zero defaults to 384.
	Dimensions int
}

// Embedder runs sentence embedding inference in-process.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *wordPieceTokenizer
	dimensions int
}

// New loads the tokenizer and opens an inference session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: ModelPath is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("onnx: TokenizerPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}

	if cfg.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(cfg.RuntimeLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	tokenizer, err := loadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	slog.Info("onnx embedder ready", "model", cfg.ModelPath, "dimensions", cfg.Dimensions, "vocab", len(tokenizer.vocab))
	return &Embedder{session: session, tokenizer: tokenizer, dimensions: cfg.Dimensions}, nil
}

// Embed tokenizes, runs inference, mean-pools over attended positions, and
// normalizes to a unit vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := e.tokenizer.tokenize(text)

	inputIDs := make([]int64, maxSeqLen)
	attentionMask := make([]int64, maxSeqLen)
	tokenTypeIDs := make([]int64, maxSeqLen)

	inputIDs[0] = int64(e.tokenizer.clsToken)
	attentionMask[0] = 1

	tokenLen := len(tokens)
	if tokenLen > maxSeqLen-2 {
		tokenLen = maxSeqLen - 2
	}
	for i := 0; i < tokenLen; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}
	inputIDs[tokenLen+1] = int64(e.tokenizer.sepToken)
	attentionMask[tokenLen+1] = 1

	shape := ort.NewShape(1, int64(maxSeqLen))
	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer inputIDsTensor.Destroy()
	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()
	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer tokenTypeIDsTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type")
	}
	return e.pool(tensor, attentionMask)
}

// pool reduces the model output to one vector. Handles both pre-pooled
// [1, dim] outputs and raw [1, seq, dim] hidden states.
func (e *Embedder) pool(tensor *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	data := tensor.GetData()
	shape := tensor.GetShape()

	switch len(shape) {
	case 2:
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("onnx: output dimension mismatch: got %d, want %d", len(data), e.dimensions)
		}
		embedding := make([]float32, e.dimensions)
		copy(embedding, data[:e.dimensions])
		return normalize(embedding), nil
	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if shape[0] != 1 {
			return nil, fmt.Errorf("onnx: expected batch size 1, got %d", shape[0])
		}
		if hidden != e.dimensions {
			return nil, fmt.Errorf("onnx: hidden size mismatch: got %d, want %d", hidden, e.dimensions)
		}
		embedding := make([]float32, hidden)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * hidden
			for j := 0; j < hidden; j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("onnx: no attended tokens")
		}
		for j := range embedding {
			embedding[j] /= attended
		}
		return normalize(embedding), nil
	default:
		return nil, fmt.Errorf("onnx: unexpected output shape: %v", shape)
	}
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases the inference session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// wordPieceTokenizer is a minimal BERT tokenizer: lowercase, whitespace
// split, longest-prefix WordPiece with ## continuations.
type wordPieceTokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
}

func loadTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return &wordPieceTokenizer{
		vocab:    parsed.Model.Vocab,
		clsToken: 101,
		sepToken: 102,
		unkToken: 100,
	}, nil
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, piece := range t.split(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

func (t *wordPieceTokenizer) split(word string) []string {
	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for end > start {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			pieces = append(pieces, "[UNK]")
			start++
		}
	}
	return pieces
}
