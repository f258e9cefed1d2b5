//go:build yzma

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
)

// yzma provides purego FFI bindings to llama.cpp, so this adapter needs
// no CGO. Prebuilt libraries are loaded once per process from the
// directory named by EMBER_LIB (default ./lib/llama).

var (
	initOnce sync.Once
	initErr  error
)

func doInit() {
	libPath := os.Getenv("EMBER_LIB")
	if libPath == "" {
		libPath = "./lib/llama"
	}
	if abs, err := filepath.Abs(libPath); err == nil {
		libPath = abs
	}
	if err := llama.Load(libPath); err != nil {
		initErr = fmt.Errorf("load llama.cpp libraries from %s: %w", libPath, err)
		return
	}
	llama.Init()
}

// Shutdown releases process-wide engine state. yzma keeps the native
// libraries resident for the life of the process, so per-handle teardown
// stops at the model and context.
func Shutdown() {}

type yzmaEngine struct {
	model  llama.Model
	lctx   llama.Context
	vocab  llama.Vocab
	params llama.ContextParams
	nCtx   int
	closed bool
	// nPast mirrors the engine-side decode position so implicit batch
	// positions can be validated against the caller's.
	nPast int32
}

// Open loads the model at path and creates its decode context. Any step
// failing releases every resource acquired so far and returns an error.
func Open(path string, p Params) (Engine, error) {
	initOnce.Do(doInit)
	if initErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, initErr)
	}

	mparams := llama.ModelDefaultParams()
	mparams.NGpuLayers = int32(p.GPULayers)

	model, err := llama.ModelLoadFromFile(path, mparams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	cparams := llama.ContextDefaultParams()
	cparams.NCtx = uint32(p.ContextSize)
	cparams.NBatch = uint32(p.BatchSize)
	if p.Threads > 0 {
		cparams.NThreads = int32(p.Threads)
	}
	if p.BatchThreads > 0 {
		cparams.NThreadsBatch = int32(p.BatchThreads)
	}

	lctx, err := llama.InitFromModel(model, cparams)
	if err != nil {
		llama.ModelFree(model)
		return nil, fmt.Errorf("%w: %v", ErrContextCreate, err)
	}

	vocab := llama.ModelGetVocab(model)
	if llama.VocabNTokens(vocab) <= 0 {
		llama.Free(lctx)
		llama.ModelFree(model)
		return nil, ErrVocabUnavailable
	}

	return &yzmaEngine{
		model:  model,
		lctx:   lctx,
		vocab:  vocab,
		params: cparams,
		nCtx:   p.ContextSize,
	}, nil
}

func (e *yzmaEngine) Tokenize(text string, addSpecial bool) ([]Token, error) {
	raw := llama.Tokenize(e.vocab, text, addSpecial, false)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no tokens for %d bytes of text", ErrTokenize, len(text))
	}
	out := make([]Token, len(raw))
	for i, t := range raw {
		out[i] = Token(t)
	}
	return out, nil
}

func (e *yzmaEngine) Piece(tok Token) string {
	buf := make([]byte, 256)
	n := llama.TokenToPiece(e.vocab, llama.Token(tok), buf, 0, false)
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

func (e *yzmaEngine) IsEOG(tok Token) bool {
	return llama.VocabIsEOG(e.vocab, llama.Token(tok))
}

func (e *yzmaEngine) Decode(b *Batch) error {
	if b.Len() == 0 {
		return fmt.Errorf("%w: empty batch", ErrDecode)
	}
	// yzma batches carry implicit positions continuing from the decode
	// memory, so explicit positions must line up with nPast.
	pos := b.Positions()
	for i, p := range pos {
		if p != e.nPast+int32(i) {
			return fmt.Errorf("%w: position %d at entry %d, decode state at %d", ErrDecode, p, i, e.nPast)
		}
	}
	toks := make([]llama.Token, b.Len())
	for i, t := range b.Tokens() {
		toks[i] = llama.Token(t)
	}
	// BatchGetOne requests scoring for its final entry; for intermediate
	// prompt chunks the extra logits are computed and ignored.
	batch := llama.BatchGetOne(toks)
	if _, err := llama.Decode(e.lctx, batch); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	e.nPast += int32(b.Len())
	return nil
}

func (e *yzmaEngine) Logits(idx int) []float32 {
	return llama.GetLogitsIth(e.lctx, int32(idx))
}

func (e *yzmaEngine) ApplyTemplate(msgs []Message, addAssistant bool, buf []byte) (int, error) {
	// yzma does not surface llama_chat_apply_template; callers fall back
	// to the fixed wrapper.
	return 0, ErrTemplateUnavailable
}

func (e *yzmaEngine) ClearMemory() error {
	// Recreating the context is the portable way to drop decode state.
	// The replacement is created before the old context is freed, so a
	// failed recreation leaves the engine on its live context with the
	// decode state intact.
	lctx, err := llama.InitFromModel(e.model, e.params)
	if err != nil {
		return fmt.Errorf("%w: recreate context: %v", ErrContextCreate, err)
	}
	llama.Free(e.lctx)
	e.lctx = lctx
	e.nPast = 0
	return nil
}

func (e *yzmaEngine) ContextSize() int { return e.nCtx }

func (e *yzmaEngine) VocabSize() int {
	return int(llama.VocabNTokens(e.vocab))
}

func (e *yzmaEngine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	llama.Free(e.lctx)
	llama.ModelFree(e.model)
	return nil
}
