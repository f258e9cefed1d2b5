// Package enginetest provides a scripted in-memory Engine for tests.
package enginetest

import (
	"fmt"

	"github.com/samcharles93/ember/internal/engine"
)

// RecordedBatch is a snapshot of one Decode call.
type RecordedBatch struct {
	Tokens     []engine.Token
	Positions  []int32
	Sequences  []int32
	LogitFlags []bool
}

// Fake is an Engine whose generation output is scripted. Logits favor
// the tokens in Script in order; once the script is exhausted the
// end-of-generation sentinel is favored, so a greedy sampler replays the
// script exactly.
type Fake struct {
	// Script is the sequence of tokens generation should produce.
	Script []engine.Token
	// Pieces maps tokens to their detokenized text. Unmapped tokens
	// render as "[id]".
	Pieces map[engine.Token]string
	// EOG is the end-of-generation sentinel. Defaults to 2.
	EOG engine.Token
	// CtxSize is the context window capacity. Defaults to 2048.
	CtxSize int
	// VocabN is the vocabulary size. Defaults to 256. Script tokens
	// must be below it.
	VocabN int
	// TokenizeFn overrides tokenization. The default maps every input
	// byte to its own token.
	TokenizeFn func(text string, addSpecial bool) ([]engine.Token, error)
	// Template backs ApplyTemplate. Nil reports ErrTemplateUnavailable.
	Template func(msgs []engine.Message, addAssistant bool, buf []byte) (int, error)
	// FailDecodeAt makes the nth Decode call (1-based) fail. Zero
	// disables.
	FailDecodeAt int
	// ClearErr is returned by ClearMemory when set.
	ClearErr error

	// Batches records every Decode call in order.
	Batches []RecordedBatch
	// Cleared counts ClearMemory calls.
	Cleared int
	// Closed counts Close calls.
	Closed int

	decodeCalls int
	logitsCalls int
	nPast       int32
	logitsBuf   []float32
}

func (f *Fake) Tokenize(text string, addSpecial bool) ([]engine.Token, error) {
	if f.TokenizeFn != nil {
		return f.TokenizeFn(text, addSpecial)
	}
	if len(text) == 0 {
		return nil, fmt.Errorf("%w: empty text", engine.ErrTokenize)
	}
	toks := make([]engine.Token, len(text))
	for i := range text {
		toks[i] = engine.Token(text[i])
	}
	return toks, nil
}

func (f *Fake) Piece(tok engine.Token) string {
	if s, ok := f.Pieces[tok]; ok {
		return s
	}
	return fmt.Sprintf("[%d]", tok)
}

func (f *Fake) IsEOG(tok engine.Token) bool { return tok == f.eog() }

func (f *Fake) Decode(b *engine.Batch) error {
	f.decodeCalls++
	rec := RecordedBatch{
		Tokens:     append([]engine.Token(nil), b.Tokens()...),
		Positions:  append([]int32(nil), b.Positions()...),
		Sequences:  append([]int32(nil), b.Sequences()...),
		LogitFlags: make([]bool, b.Len()),
	}
	for i := 0; i < b.Len(); i++ {
		rec.LogitFlags[i] = b.WantsLogits(i)
	}
	f.Batches = append(f.Batches, rec)

	if f.FailDecodeAt > 0 && f.decodeCalls == f.FailDecodeAt {
		return fmt.Errorf("%w: scripted failure at call %d", engine.ErrDecode, f.decodeCalls)
	}
	for i, p := range rec.Positions {
		if p != f.nPast+int32(i) {
			return fmt.Errorf("%w: position %d at entry %d, decode state at %d", engine.ErrDecode, p, i, f.nPast)
		}
	}
	f.nPast += int32(b.Len())
	return nil
}

func (f *Fake) Logits(idx int) []float32 {
	n := f.vocabN()
	if cap(f.logitsBuf) < n {
		f.logitsBuf = make([]float32, n)
	}
	logits := f.logitsBuf[:n]
	for i := range logits {
		logits[i] = 0
	}
	favored := f.eog()
	if f.logitsCalls < len(f.Script) {
		favored = f.Script[f.logitsCalls]
	}
	f.logitsCalls++
	logits[int(favored)] = 10
	return logits
}

func (f *Fake) ApplyTemplate(msgs []engine.Message, addAssistant bool, buf []byte) (int, error) {
	if f.Template == nil {
		return 0, engine.ErrTemplateUnavailable
	}
	return f.Template(msgs, addAssistant, buf)
}

func (f *Fake) ClearMemory() error {
	f.Cleared++
	if f.ClearErr != nil {
		return f.ClearErr
	}
	f.nPast = 0
	f.logitsCalls = 0
	return nil
}

func (f *Fake) ContextSize() int {
	if f.CtxSize > 0 {
		return f.CtxSize
	}
	return 2048
}

func (f *Fake) VocabSize() int { return f.vocabN() }

func (f *Fake) Close() error {
	f.Closed++
	return nil
}

func (f *Fake) eog() engine.Token {
	if f.EOG != 0 {
		return f.EOG
	}
	return 2
}

func (f *Fake) vocabN() int {
	if f.VocabN > 0 {
		return f.VocabN
	}
	return 256
}

// Opener returns an engine.OpenFunc that hands out f, for wiring the
// fake through session loading.
func Opener(f *Fake) func(path string, p engine.Params) (engine.Engine, error) {
	return func(path string, p engine.Params) (engine.Engine, error) {
		return f, nil
	}
}
