package api

// CreateSessionRequest opens a session. Zero-valued fields fall back to
// the server's defaults.
type CreateSessionRequest struct {
	Model         string   `json:"model,omitempty"`
	ContextSize   int      `json:"context_size,omitempty"`
	BatchSize     int      `json:"batch_size,omitempty"`
	GPULayers     int      `json:"gpu_layers,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float32 `json:"temperature,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	TopP          *float32 `json:"top_p,omitempty"`
	MinP          *float32 `json:"min_p,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	StopPatterns  []string `json:"stop,omitempty"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
	RepeatPenalty *float32 `json:"repeat_penalty,omitempty"`
	RepeatLastN   int      `json:"repeat_last_n,omitempty"`
}

// SessionResponse describes a live session.
type SessionResponse struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Model       string `json:"model"`
	ContextSize int    `json:"context_size"`
	Position    int    `json:"position"`
	Degraded    bool   `json:"degraded,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// PredictRequest runs one conversation turn.
type PredictRequest struct {
	Prompt string `json:"prompt"`
}

// PredictResponse is the outcome of one turn.
type PredictResponse struct {
	ID              string  `json:"id"`
	Object          string  `json:"object"`
	Text            string  `json:"text"`
	StopReason      string  `json:"stop_reason"`
	PromptTokens    int     `json:"prompt_tokens"`
	TokensGenerated int     `json:"tokens_generated"`
	Position        int     `json:"position"`
	DurationMS      int64   `json:"duration_ms"`
	TokensPerSecond float64 `json:"tokens_per_second"`
}

// ResetResponse acknowledges a conversation reset.
type ResetResponse struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Position int    `json:"position"`
}

// DeleteSessionResponse acknowledges session teardown.
type DeleteSessionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// APIError is the error payload wrapped under "error" in failure
// responses.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
