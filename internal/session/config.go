package session

import "github.com/samcharles93/ember/internal/logits"

// Defaults applied by Config.withDefaults.
const (
	DefaultContextSize   = 2048
	DefaultBatchSize     = 512
	DefaultThreads       = 4
	DefaultMaxTokens     = 256
	DefaultContextMargin = 4
	DefaultStopWindow    = 50
	DefaultTemplateBuf   = 2048
)

// Config describes one session: where the model lives, how the decode
// context is sized, and how generation terminates.
type Config struct {
	// ModelPath is the GGUF model file to load.
	ModelPath string

	// ContextSize is the decode context capacity in token positions.
	ContextSize int
	// BatchSize is the maximum tokens per decode call.
	BatchSize int
	// Threads is the CPU thread count for single-token decoding.
	Threads int
	// BatchThreads is the CPU thread count for prompt batches. Zero
	// follows Threads.
	BatchThreads int
	// GPULayers offloads that many layers to the GPU. Zero disables.
	GPULayers int

	// MaxTokens bounds how many tokens one turn may generate.
	MaxTokens int
	// ContextMargin stops generation when the position counter comes
	// within this many positions of ContextSize.
	ContextMargin int

	// StopPatterns are literal strings that end generation when they
	// appear in the output. The matched pattern and everything after it
	// is removed from the returned text.
	StopPatterns []string
	// StopWindow is how many trailing characters of output are scanned
	// for stop patterns.
	StopWindow int

	// TemplateBufSize is the initial buffer for chat template rendering.
	TemplateBufSize int
	// SystemPrompt, when set, opens every fresh conversation.
	SystemPrompt string

	// Sampling configures the token-sampling pipeline.
	Sampling logits.Config

	// ShutdownOnClose releases process-wide engine state when the
	// session closes, instead of keeping it resident for later loads.
	ShutdownOnClose bool
}

func (c Config) withDefaults() Config {
	if c.ContextSize <= 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Threads <= 0 {
		c.Threads = DefaultThreads
	}
	if c.BatchThreads <= 0 {
		c.BatchThreads = c.Threads
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ContextMargin <= 0 {
		c.ContextMargin = DefaultContextMargin
	}
	if c.StopWindow <= 0 {
		c.StopWindow = DefaultStopWindow
	}
	if c.TemplateBufSize <= 0 {
		c.TemplateBufSize = DefaultTemplateBuf
	}
	return c
}
