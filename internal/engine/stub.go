//go:build !yzma

package engine

// This file provides the no-binding stub compiled when the 'yzma' build
// tag is not set, keeping default builds and CI free of native library
// requirements. The real adapter lives in yzma.go.

// Open always fails in stub builds.
func Open(path string, p Params) (Engine, error) {
	return nil, ErrUnavailable
}

// Shutdown releases process-wide engine state. No-op in stub builds.
func Shutdown() {}
