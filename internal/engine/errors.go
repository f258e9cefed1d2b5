package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad indicates the model file could not be loaded.
	ErrModelLoad = errors.New("engine: model load failed")

	// ErrContextCreate indicates the decode context could not be created.
	ErrContextCreate = errors.New("engine: context create failed")

	// ErrVocabUnavailable indicates the model exposes no vocabulary.
	ErrVocabUnavailable = errors.New("engine: vocabulary unavailable")

	// ErrTokenize indicates text could not be converted to tokens.
	ErrTokenize = errors.New("engine: tokenize failed")

	// ErrBatchCapacityExceeded indicates an attempt to add an entry to a
	// full batch.
	ErrBatchCapacityExceeded = errors.New("engine: batch capacity exceeded")

	// ErrDecode indicates a decode call failed.
	ErrDecode = errors.New("engine: decode failed")

	// ErrTemplateUnavailable indicates the model supplies no chat
	// template.
	ErrTemplateUnavailable = errors.New("engine: chat template unavailable")

	// ErrUnavailable is returned by Open in builds without a native
	// engine binding.
	ErrUnavailable = errors.New("engine: no native binding in this build (rebuild with -tags yzma)")
)

// TemplateSizeError reports a template render that did not fit the
// provided buffer.
type TemplateSizeError struct {
	// Need is the buffer size required to hold the rendered output.
	Need int
}

func (e *TemplateSizeError) Error() string {
	return fmt.Sprintf("engine: template buffer too small (need %d)", e.Need)
}
