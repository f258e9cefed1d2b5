// Package engine defines the boundary to the native inference engine.
//
// Everything behind the Engine interface (tensor math, model parsing,
// tokenizer vocabulary, kernel dispatch) belongs to the engine and is
// consumed, not built. The real binding uses yzma's purego llama.cpp
// bindings and is selected with the 'yzma' build tag; default builds get
// a CGO-free stub so tests and CI never need native libraries.
package engine

// Token is an opaque vocabulary identifier. A Token is only meaningful
// to the engine instance that produced it.
type Token int32

// Message is a single chat turn handed to the model's native chat
// template.
type Message struct {
	Role    string
	Content string
}

// Params configures engine resource creation.
type Params struct {
	// ContextSize is the number of token positions the decode context
	// holds state for.
	ContextSize int
	// BatchSize is the maximum number of tokens one decode call accepts.
	BatchSize int
	// Threads is the number of CPU threads for single-token decoding.
	Threads int
	// BatchThreads is the number of CPU threads for prompt batches.
	BatchThreads int
	// GPULayers is the number of layers offloaded to the GPU. Zero
	// disables offload.
	GPULayers int
}

// OpenFunc opens an engine for the model at path. Open is the
// production implementation; tests substitute fakes.
type OpenFunc func(path string, p Params) (Engine, error)

// Engine is a loaded model plus its decode context.
//
// An Engine is a single-owner resource: callers must serialize access.
// Decode state (the engine-side memory) advances with every successful
// Decode call and is discarded by ClearMemory.
type Engine interface {
	// Tokenize converts text to engine tokens. addSpecial controls
	// whether the vocabulary's BOS marker is prepended.
	Tokenize(text string, addSpecial bool) ([]Token, error)

	// Piece returns the text fragment for a single token.
	Piece(tok Token) string

	// IsEOG reports whether tok is an end-of-generation sentinel
	// (end-of-sequence or end-of-turn).
	IsEOG(tok Token) bool

	// Decode submits one batch. Entries flagged for logits produce
	// scoring output retrievable with Logits.
	Decode(b *Batch) error

	// Logits returns the scoring output for entry idx of the most
	// recently decoded batch. The slice is engine-owned and only valid
	// until the next Decode call.
	Logits(idx int) []float32

	// ApplyTemplate renders msgs through the model-supplied chat
	// template into buf, returning the rendered length. A
	// *TemplateSizeError reports that buf was too small and carries the
	// required size. ErrTemplateUnavailable means the model ships no
	// template.
	ApplyTemplate(msgs []Message, addAssistant bool, buf []byte) (int, error)

	// ClearMemory discards all engine-side decode state, returning the
	// context to its freshly created condition.
	ClearMemory() error

	// ContextSize reports the decode context capacity in positions.
	ContextSize() int

	// VocabSize reports the number of tokens in the vocabulary.
	VocabSize() int

	// Close releases the decode context and model. Safe to call more
	// than once.
	Close() error
}
