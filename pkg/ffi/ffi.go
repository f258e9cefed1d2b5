// Package ffi exposes the session lifecycle as a flat, handle-based
// surface for foreign callers: integer handles instead of pointers,
// status strings instead of errors, and explicit release of returned
// text. Nothing in this package panics across the boundary.
package ffi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/ember/internal/engine"
	"github.com/samcharles93/ember/internal/logger"
	"github.com/samcharles93/ember/internal/session"
)

// Status strings returned by Predict in place of generated text.
const (
	StatusNotLoaded      = "Model not loaded"
	StatusTokenizeFailed = "Failed to tokenize prompt"
	StatusEvalFailed     = "Failed to evaluate prompt"
)

// Handle identifies a loaded session. Zero is the null handle.
type Handle uintptr

// Text identifies a string leased to the caller by Predict. Zero is the
// null text.
type Text uintptr

var (
	mu       sync.Mutex
	sessions = map[Handle]*session.Session{}
	texts    = map[Text]string{}
	nextH    Handle = 1
	nextT    Text   = 1

	log logger.Logger = logger.Default()

	// openEngine overrides the engine binding. Nil selects the default.
	openEngine engine.OpenFunc
)

// SetLogger replaces the package logger.
func SetLogger(l logger.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l != nil {
		log = l
	}
}

// Load opens the model at path and returns a session handle, or the
// null handle on any construction failure. cfg.ModelPath is ignored in
// favor of path.
func Load(path string, cfg session.Config) Handle {
	cfg.ModelPath = path
	s, err := session.NewLoader(log, openEngine).Load(cfg)
	if err != nil {
		log.Error("load failed", "path", path, "error", err)
		return 0
	}
	mu.Lock()
	defer mu.Unlock()
	h := nextH
	nextH++
	sessions[h] = s
	return h
}

// Predict runs one turn and leases the resulting text to the caller.
// It never fails: an invalid handle or an internal error yields a
// status string in place of generated text. Release the text with
// ReleaseText when done.
func Predict(h Handle, prompt string) Text {
	s := lookup(h)
	if s == nil {
		return lease(StatusNotLoaded)
	}
	res, err := safePredict(s, prompt)
	if err != nil {
		log.Error("predict failed", "error", err)
		if errors.Is(err, engine.ErrTokenize) {
			return lease(StatusTokenizeFailed)
		}
		return lease(StatusEvalFailed)
	}
	return lease(res.Text)
}

// safePredict keeps a panic in the generation path from crossing the
// boundary.
func safePredict(s *session.Session, prompt string) (res session.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during predict: %v", r)
		}
	}()
	return s.Predict(prompt)
}

// TextString returns the leased string for t. The null text and
// already-released texts read as empty.
func TextString(t Text) string {
	mu.Lock()
	defer mu.Unlock()
	return texts[t]
}

// ReleaseText returns a leased string. Releasing the null text or an
// already-released text is a no-op.
func ReleaseText(t Text) {
	mu.Lock()
	defer mu.Unlock()
	delete(texts, t)
}

// Reset clears the conversation on h. The null handle is a no-op.
func Reset(h Handle) {
	s := lookup(h)
	if s == nil {
		return
	}
	if err := s.Reset(); err != nil {
		log.Error("reset failed", "error", err)
	}
}

// Free releases the session behind h. The null handle, and handles
// already freed, are no-ops.
func Free(h Handle) {
	mu.Lock()
	s := sessions[h]
	delete(sessions, h)
	mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		log.Error("free failed", "error", err)
	}
}

func lookup(h Handle) *session.Session {
	mu.Lock()
	defer mu.Unlock()
	return sessions[h]
}

func lease(s string) Text {
	mu.Lock()
	defer mu.Unlock()
	t := nextT
	nextT++
	texts[t] = s
	return t
}
