package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/ember/internal/engine"
	"github.com/samcharles93/ember/internal/engine/enginetest"
	"github.com/samcharles93/ember/internal/logger"
	"github.com/samcharles93/ember/internal/logits"
)

func testLogger() logger.Logger {
	return logger.JSON(io.Discard, slog.LevelError)
}

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func load(t *testing.T, fake *enginetest.Fake, mutate func(*Config)) *Session {
	t.Helper()
	cfg := Config{ModelPath: modelFile(t)}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewLoader(testLogger(), enginetest.Opener(fake)).Load(cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// chatml mirrors the fallback rendering of a single user turn, so tests
// can predict how many tokens a prompt produces under the fake's
// byte-per-token tokenizer.
func chatml(prompt string) string {
	return "<|im_start|>user\n" + prompt + "<|im_end|>\n<|im_start|>assistant\n"
}

func TestLoadFailsWithoutModelFile(t *testing.T) {
	cfg := Config{ModelPath: filepath.Join(t.TempDir(), "missing.gguf")}
	_, err := NewLoader(testLogger(), enginetest.Opener(&enginetest.Fake{})).Load(cfg)
	if !errors.Is(err, engine.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestLoadRejectsNonGGUFFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, []byte("definitely not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	opened := false
	open := func(string, engine.Params) (engine.Engine, error) {
		opened = true
		return &enginetest.Fake{}, nil
	}
	_, err := NewLoader(testLogger(), open).Load(Config{ModelPath: path})
	if !errors.Is(err, engine.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	if opened {
		t.Fatal("engine should not be opened for a rejected file")
	}
}

func TestLoadRollsBackOnSamplerFailure(t *testing.T) {
	fake := &enginetest.Fake{}
	cfg := Config{
		ModelPath: modelFile(t),
		Sampling:  logits.Config{TopK: -1},
	}
	_, err := NewLoader(testLogger(), enginetest.Opener(fake)).Load(cfg)
	if err == nil {
		t.Fatal("expected sampler validation error")
	}
	if fake.Closed != 1 {
		t.Fatalf("engine Close calls: got %d, want 1", fake.Closed)
	}
}

func TestLoadPropagatesOpenFailure(t *testing.T) {
	open := func(path string, p engine.Params) (engine.Engine, error) {
		return nil, fmt.Errorf("%w: bad magic", engine.ErrModelLoad)
	}
	_, err := NewLoader(testLogger(), open).Load(Config{ModelPath: modelFile(t)})
	if !errors.Is(err, engine.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestPredictPositionAccounting(t *testing.T) {
	fake := &enginetest.Fake{
		Script: []engine.Token{65, 66},
		Pieces: map[engine.Token]string{65: "Hel", 66: "lo"},
	}
	s := load(t, fake, nil)

	res, err := s.Predict("Hi")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("text: got %q, want %q", res.Text, "Hello")
	}
	if res.Reason != StopEOS {
		t.Fatalf("reason: got %q, want %q", res.Reason, StopEOS)
	}

	wantPrompt := len(chatml("Hi"))
	if res.PromptTokens != wantPrompt {
		t.Fatalf("prompt tokens: got %d, want %d", res.PromptTokens, wantPrompt)
	}
	if res.TokensGenerated != 2 {
		t.Fatalf("generated: got %d, want 2", res.TokensGenerated)
	}
	// The sentinel is never decoded, so it does not count.
	if s.Position() != wantPrompt+2 {
		t.Fatalf("position: got %d, want %d", s.Position(), wantPrompt+2)
	}
}

func TestPredictChunksLongPrompt(t *testing.T) {
	const promptLen = 1300
	fake := &enginetest.Fake{
		TokenizeFn: func(text string, addSpecial bool) ([]engine.Token, error) {
			return make([]engine.Token, promptLen), nil
		},
	}
	s := load(t, fake, nil)

	res, err := s.Predict("long")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Reason != StopEOS || res.TokensGenerated != 0 {
		t.Fatalf("got reason %q, generated %d", res.Reason, res.TokensGenerated)
	}
	if s.Position() != promptLen {
		t.Fatalf("position: got %d, want %d", s.Position(), promptLen)
	}

	if len(fake.Batches) != 3 {
		t.Fatalf("decode calls: got %d, want 3", len(fake.Batches))
	}
	wantLens := []int{512, 512, 276}
	next := int32(0)
	for i, b := range fake.Batches {
		if len(b.Tokens) != wantLens[i] {
			t.Fatalf("chunk %d length: got %d, want %d", i, len(b.Tokens), wantLens[i])
		}
		for j, p := range b.Positions {
			if p != next {
				t.Fatalf("chunk %d entry %d position: got %d, want %d", i, j, p, next)
			}
			next++
		}
		for j, want := range b.LogitFlags {
			isFinalEntry := i == 2 && j == wantLens[2]-1
			if want != isFinalEntry {
				t.Fatalf("chunk %d entry %d logits flag: got %v", i, j, want)
			}
		}
	}
}

func TestPredictStopPatternTruncates(t *testing.T) {
	fake := &enginetest.Fake{
		Script: []engine.Token{10, 11, 12},
		Pieces: map[engine.Token]string{10: "Hello ", 11: "ST", 12: "OP tail"},
	}
	s := load(t, fake, func(c *Config) { c.StopPatterns = []string{"STOP"} })

	res, err := s.Predict("q")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Reason != StopPattern {
		t.Fatalf("reason: got %q, want %q", res.Reason, StopPattern)
	}
	if res.Text != "Hello " {
		t.Fatalf("text: got %q, want %q", res.Text, "Hello ")
	}
	if strings.Contains(res.Text, "STOP") {
		t.Fatalf("stop marker leaked into %q", res.Text)
	}
}

func TestPredictMaxTokens(t *testing.T) {
	fake := &enginetest.Fake{Script: []engine.Token{10, 11, 12, 13, 14}}
	s := load(t, fake, func(c *Config) { c.MaxTokens = 3 })

	res, err := s.Predict("q")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Reason != StopMaxTokens || res.TokensGenerated != 3 {
		t.Fatalf("got reason %q, generated %d", res.Reason, res.TokensGenerated)
	}
}

func TestPredictContextLimit(t *testing.T) {
	script := make([]engine.Token, 20)
	for i := range script {
		script[i] = engine.Token(10 + i)
	}
	fake := &enginetest.Fake{
		CtxSize: 20,
		Script:  script,
		TokenizeFn: func(text string, addSpecial bool) ([]engine.Token, error) {
			return make([]engine.Token, 10), nil
		},
	}
	s := load(t, fake, nil) // margin 4, so the limit is position 16

	res, err := s.Predict("q")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Reason != StopContextLimit {
		t.Fatalf("reason: got %q, want %q", res.Reason, StopContextLimit)
	}
	if res.TokensGenerated != 6 || s.Position() != 16 {
		t.Fatalf("generated %d at position %d, want 6 at 16", res.TokensGenerated, s.Position())
	}
}

func TestPredictRejectsOversizedPrompt(t *testing.T) {
	fake := &enginetest.Fake{
		CtxSize: 16,
		TokenizeFn: func(text string, addSpecial bool) ([]engine.Token, error) {
			return make([]engine.Token, 100), nil
		},
	}
	s := load(t, fake, nil)

	res, err := s.Predict("too long")
	if err == nil {
		t.Fatal("expected context overflow error")
	}
	if res.Reason != StopContextLimit {
		t.Fatalf("reason: got %q, want %q", res.Reason, StopContextLimit)
	}
	if s.Position() != 0 || len(fake.Batches) != 0 {
		t.Fatal("nothing should have been decoded")
	}
}

func TestPredictTokenizeFailure(t *testing.T) {
	fail := true
	fake := &enginetest.Fake{
		TokenizeFn: func(text string, addSpecial bool) ([]engine.Token, error) {
			if fail {
				return nil, fmt.Errorf("%w: scripted", engine.ErrTokenize)
			}
			return []engine.Token{5}, nil
		},
	}
	s := load(t, fake, nil)

	if _, err := s.Predict("x"); !errors.Is(err, engine.ErrTokenize) {
		t.Fatalf("expected ErrTokenize, got %v", err)
	}
	if s.Position() != 0 {
		t.Fatalf("position after tokenize failure: got %d, want 0", s.Position())
	}

	// The session stays usable.
	fail = false
	if _, err := s.Predict("x"); err != nil {
		t.Fatalf("Predict after recovery: %v", err)
	}
}

func TestPredictPromptDecodeFailureKeepsPrefix(t *testing.T) {
	fake := &enginetest.Fake{
		FailDecodeAt: 2,
		TokenizeFn: func(text string, addSpecial bool) ([]engine.Token, error) {
			return make([]engine.Token, 10), nil
		},
	}
	s := load(t, fake, func(c *Config) { c.BatchSize = 4 })

	res, err := s.Predict("x")
	if !errors.Is(err, engine.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if res.Reason != StopDecodeError || res.PromptTokens != 4 {
		t.Fatalf("got reason %q, prompt tokens %d", res.Reason, res.PromptTokens)
	}
	if s.Position() != 4 {
		t.Fatalf("position: got %d, want the decoded prefix 4", s.Position())
	}
	if !s.Degraded() {
		t.Fatal("session should report degraded after a partial prompt")
	}
}

func TestPredictRetriesAsFirstTurnAfterTotalPromptFailure(t *testing.T) {
	var rendered []string
	var special []bool
	fake := &enginetest.Fake{
		FailDecodeAt: 1,
		Script:       []engine.Token{65},
		TokenizeFn: func(text string, addSpecial bool) ([]engine.Token, error) {
			rendered = append(rendered, text)
			special = append(special, addSpecial)
			return []engine.Token{5}, nil
		},
	}
	s := load(t, fake, func(c *Config) { c.SystemPrompt = "be brief" })

	if _, err := s.Predict("one"); !errors.Is(err, engine.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if s.Position() != 0 || s.Started() {
		t.Fatalf("nothing decoded, yet position %d, started %v", s.Position(), s.Started())
	}
	if s.Degraded() {
		t.Fatal("a clean failure should not degrade the session")
	}

	if _, err := s.Predict("one again"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(rendered) != 2 {
		t.Fatalf("tokenize calls: got %d, want 2", len(rendered))
	}
	if !strings.Contains(rendered[1], "be brief") {
		t.Fatalf("retry dropped the system prompt: %q", rendered[1])
	}
	if !special[1] {
		t.Fatal("retry should tokenize as a first turn")
	}
	if !s.Started() {
		t.Fatal("successful retry should start the conversation")
	}
}

func TestPredictGenerationDecodeFailureReturnsPartialText(t *testing.T) {
	fake := &enginetest.Fake{
		// Call 1 ingests the prompt; call 2 is the first generated token.
		FailDecodeAt: 2,
		Script:       []engine.Token{65, 66},
		Pieces:       map[engine.Token]string{65: "par", 66: "tial"},
	}
	s := load(t, fake, nil)

	res, err := s.Predict("q")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Reason != StopDecodeError {
		t.Fatalf("reason: got %q, want %q", res.Reason, StopDecodeError)
	}
	if res.Text != "par" {
		t.Fatalf("text: got %q, want %q", res.Text, "par")
	}
	if res.TokensGenerated != 0 {
		t.Fatalf("generated: got %d, want 0", res.TokensGenerated)
	}
	if s.Degraded() {
		t.Fatal("a generation-phase failure leaves the counters consistent")
	}
}

func TestPredictContinuesConversation(t *testing.T) {
	fake := &enginetest.Fake{Script: []engine.Token{65}}
	s := load(t, fake, nil)

	if _, err := s.Predict("first"); err != nil {
		t.Fatalf("first Predict: %v", err)
	}
	after1 := s.Position()

	if _, err := s.Predict("second"); err != nil {
		t.Fatalf("second Predict: %v", err)
	}
	if s.Position() <= after1 {
		t.Fatalf("position after second turn: got %d, want > %d", s.Position(), after1)
	}
}

func TestSystemPromptOnlyOnFirstTurn(t *testing.T) {
	var rendered []string
	fake := &enginetest.Fake{
		TokenizeFn: func(text string, addSpecial bool) ([]engine.Token, error) {
			rendered = append(rendered, text)
			return []engine.Token{5}, nil
		},
	}
	s := load(t, fake, func(c *Config) { c.SystemPrompt = "be brief" })

	s.Predict("one")
	s.Predict("two")
	if len(rendered) != 2 {
		t.Fatalf("tokenize calls: got %d, want 2", len(rendered))
	}
	if !strings.Contains(rendered[0], "be brief") {
		t.Fatalf("first turn missing system prompt: %q", rendered[0])
	}
	if strings.Contains(rendered[1], "be brief") {
		t.Fatalf("continuation repeated system prompt: %q", rendered[1])
	}
}

func TestResetStartsFresh(t *testing.T) {
	fake := &enginetest.Fake{Script: []engine.Token{65}}
	s := load(t, fake, nil)

	if _, err := s.Predict("Hi"); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	firstPos := s.Position()
	s.Predict("more")

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if fake.Cleared != 1 {
		t.Fatalf("ClearMemory calls: got %d, want 1", fake.Cleared)
	}
	if s.Position() != 0 || s.Started() {
		t.Fatalf("after reset: position %d, started %v", s.Position(), s.Started())
	}

	// The first turn after reset follows a fresh session's trajectory.
	if _, err := s.Predict("Hi"); err != nil {
		t.Fatalf("Predict after reset: %v", err)
	}
	if s.Position() != firstPos {
		t.Fatalf("position after reset turn: got %d, want %d", s.Position(), firstPos)
	}
}

func TestResetClearFailureLeavesStateAlone(t *testing.T) {
	fake := &enginetest.Fake{Script: []engine.Token{65}, ClearErr: errors.New("engine busy")}
	s := load(t, fake, nil)

	s.Predict("Hi")
	before := s.Position()
	if err := s.Reset(); err == nil {
		t.Fatal("expected Reset error")
	}
	if s.Position() != before || !s.Started() {
		t.Fatal("local state must survive a failed engine clear")
	}

	// The engine keeps its decode state too, so the conversation can
	// simply continue.
	if _, err := s.Predict("still there?"); err != nil {
		t.Fatalf("predict after failed reset: %v", err)
	}
	if s.Position() <= before {
		t.Fatalf("position did not advance past %d", before)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fake := &enginetest.Fake{}
	s := load(t, fake, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if fake.Closed != 1 {
		t.Fatalf("engine Close calls: got %d, want 1", fake.Closed)
	}
	if _, err := s.Predict("x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Predict after Close: got %v, want ErrClosed", err)
	}
	if err := s.Reset(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Reset after Close: got %v, want ErrClosed", err)
	}
}
