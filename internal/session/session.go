// Package session implements the stateful multi-turn generation session:
// prompt ingestion through capacity-bounded batches, the
// sample-accept-detokenize loop with its termination policy, and
// conversation continuity with explicit reset.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/ember/internal/engine"
	"github.com/samcharles93/ember/internal/logger"
	"github.com/samcharles93/ember/internal/logits"
	"github.com/samcharles93/ember/internal/prompt"
	"github.com/samcharles93/ember/internal/stop"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// StopReason says why a generation turn ended.
type StopReason string

const (
	// StopEOS: the model produced an end-of-generation sentinel.
	StopEOS StopReason = "eos"
	// StopPattern: a configured stop pattern appeared in the output.
	StopPattern StopReason = "stop_pattern"
	// StopMaxTokens: the per-turn generation limit was reached.
	StopMaxTokens StopReason = "max_tokens"
	// StopContextLimit: the position counter reached the context margin.
	StopContextLimit StopReason = "context_limit"
	// StopDecodeError: the engine rejected a decode call mid-turn.
	StopDecodeError StopReason = "decode_error"
)

// Result is the outcome of one generation turn.
type Result struct {
	Text            string
	Reason          StopReason
	PromptTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Session owns a loaded model, its decode context, the sampling
// pipeline, and conversation bookkeeping. It is a single-owner
// resource: callers must serialize Predict, Reset, and Close.
type Session struct {
	cfg     Config
	log     logger.Logger
	eng     engine.Engine
	sampler *logits.Sampler
	batch   *engine.Batch
	fmtr    *prompt.Formatter
	det     *stop.Detector

	// history holds every token incorporated into the engine's decode
	// state; position equals len(history) while the session is healthy.
	history  []engine.Token
	position int
	started  bool
	closed   bool
	degraded bool
}

// Position reports how many tokens the engine's decode state holds.
func (s *Session) Position() int { return s.position }

// Started reports whether any turn has been ingested since the last
// reset.
func (s *Session) Started() bool { return s.started }

// Degraded reports that a mid-prompt decode failure left the position
// counter short of an intended prompt. The session still works but the
// caller should consider Reset.
func (s *Session) Degraded() bool { return s.degraded }

// ContextSize reports the decode context capacity.
func (s *Session) ContextSize() int { return s.eng.ContextSize() }

// Predict runs one conversation turn: renders and ingests the user
// prompt, then generates until a stop condition. Without an intervening
// Reset, successive calls continue the same conversation.
//
// Tokenize and prompt-ingestion failures return an error; the session
// stays usable. A decode failure during generation ends the turn with
// StopDecodeError and whatever text was produced.
func (s *Session) Predict(userPrompt string) (Result, error) {
	if s.closed {
		return Result{}, ErrClosed
	}
	if s.degraded {
		s.log.Warn("predict on degraded session, consider reset", "position", s.position)
	}
	start := time.Now()

	var msgs []engine.Message
	if !s.started && s.cfg.SystemPrompt != "" {
		msgs = append(msgs, engine.Message{Role: "system", Content: s.cfg.SystemPrompt})
	}
	msgs = append(msgs, engine.Message{Role: "user", Content: userPrompt})
	text := s.fmtr.Render(msgs, true)

	toks, err := s.eng.Tokenize(text, !s.started)
	if err != nil {
		return Result{}, fmt.Errorf("tokenize prompt: %w", err)
	}

	limit := s.eng.ContextSize() - s.cfg.ContextMargin
	if s.position+len(toks) > limit {
		return Result{Reason: StopContextLimit}, fmt.Errorf(
			"prompt of %d tokens does not fit: position %d, context %d",
			len(toks), s.position, s.eng.ContextSize())
	}

	decoded, err := s.submit(toks)
	// The conversation only starts once the engine holds something; a
	// total first-chunk failure leaves the next call a first turn.
	if decoded > 0 {
		s.started = true
	}
	if err != nil {
		if decoded > 0 {
			s.degraded = true
		}
		return Result{Reason: StopDecodeError, PromptTokens: decoded},
			fmt.Errorf("evaluate prompt: %w", err)
	}

	res := s.generate(len(toks), limit)
	res.Duration = time.Since(start)
	if secs := res.Duration.Seconds(); secs > 0 {
		res.TPS = float64(res.TokensGenerated) / secs
	}
	s.log.Debug("turn complete",
		"reason", res.Reason,
		"prompt_tokens", res.PromptTokens,
		"generated", res.TokensGenerated,
		"position", s.position,
		"tps", res.TPS)
	return res, nil
}

// submit feeds toks to the engine in chunks of at most the batch
// capacity, assigning contiguous positions from the current counter.
// Only the final entry of the final chunk requests scoring output. The
// counter advances per successful chunk, so a mid-sequence failure
// leaves it reflecting the decoded prefix. Returns the decoded count.
func (s *Session) submit(toks []engine.Token) (int, error) {
	decoded := 0
	rem := toks
	for len(rem) > 0 {
		n := min(s.batch.Capacity(), len(rem))
		chunk := rem[:n]
		final := n == len(rem)

		s.batch.Clear()
		for i, tok := range chunk {
			wantLogits := final && i == n-1
			if err := s.batch.Add(tok, int32(s.position+i), 0, wantLogits); err != nil {
				return decoded, err
			}
		}
		if err := s.eng.Decode(s.batch); err != nil {
			return decoded, fmt.Errorf("chunk at position %d: %w", s.position, err)
		}

		s.history = append(s.history, chunk...)
		for _, tok := range chunk {
			s.sampler.Accept(int(tok))
		}
		s.position += n
		decoded += n
		rem = rem[n:]
	}
	return decoded, nil
}

// generate runs the sampling loop after a successful prompt ingest.
// lastIdx addresses the scoring output of the final prompt entry.
func (s *Session) generate(promptTokens, limit int) Result {
	s.det.Reset()
	var sb strings.Builder
	generated := 0
	lastIdx := s.batch.Len() - 1

	for {
		tok := engine.Token(s.sampler.Sample(s.eng.Logits(lastIdx)))

		if s.eng.IsEOG(tok) {
			return s.stopped(sb.String(), StopEOS, promptTokens, generated)
		}
		s.sampler.Accept(int(tok))

		piece := s.eng.Piece(tok)
		sb.WriteString(piece)
		s.det.Write(piece)
		if off, ok := s.det.Match(); ok {
			return s.stopped(sb.String()[:off], StopPattern, promptTokens, generated)
		}

		s.batch.Clear()
		if err := s.batch.Add(tok, int32(s.position), 0, true); err != nil {
			s.log.Error("single-token batch rejected", "error", err)
			return s.stopped(sb.String(), StopDecodeError, promptTokens, generated)
		}
		if err := s.eng.Decode(s.batch); err != nil {
			s.log.Error("decode failed mid-generation", "position", s.position, "error", err)
			return s.stopped(sb.String(), StopDecodeError, promptTokens, generated)
		}

		s.history = append(s.history, tok)
		s.position++
		generated++
		lastIdx = 0

		if s.position >= limit {
			return s.stopped(sb.String(), StopContextLimit, promptTokens, generated)
		}
		if generated >= s.cfg.MaxTokens {
			return s.stopped(sb.String(), StopMaxTokens, promptTokens, generated)
		}
	}
}

func (s *Session) stopped(text string, reason StopReason, promptTokens, generated int) Result {
	return Result{
		Text:            text,
		Reason:          reason,
		PromptTokens:    promptTokens,
		TokensGenerated: generated,
	}
}

// Reset clears the engine-side decode state and the local conversation
// bookkeeping together, so the next Predict behaves like the first call
// on a fresh session while reusing the allocated buffers.
func (s *Session) Reset() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.eng.ClearMemory(); err != nil {
		return fmt.Errorf("clear engine memory: %w", err)
	}
	s.history = s.history[:0]
	s.position = 0
	s.started = false
	s.degraded = false
	s.sampler.Reset()
	s.det.Reset()
	return nil
}

// Close releases the session's resources exactly once. Further calls
// are no-ops.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.eng.Close()
	if s.cfg.ShutdownOnClose {
		engine.Shutdown()
	}
	return err
}
