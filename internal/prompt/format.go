// Package prompt renders conversation turns into the text form a model
// expects. When the loaded model carries a chat template the native
// renderer is used; otherwise a ChatML rendering is produced, which the
// instruction-tuned models this project targets accept.
package prompt

import (
	"errors"
	"strings"

	"github.com/samcharles93/ember/internal/engine"
)

// TemplateFunc renders msgs into buf using a model-native chat template.
// It reports the rendered length, which may exceed len(buf).
type TemplateFunc func(msgs []engine.Message, addAssistant bool, buf []byte) (int, error)

// Formatter turns messages into model input text.
type Formatter struct {
	tmpl    TemplateFunc
	bufSize int
}

// New returns a formatter. tmpl may be nil, in which case every render
// uses the ChatML fallback. bufSize is the initial template buffer; it
// is grown once when a render reports a larger need.
func New(tmpl TemplateFunc, bufSize int) *Formatter {
	if bufSize <= 0 {
		bufSize = 2048
	}
	return &Formatter{tmpl: tmpl, bufSize: bufSize}
}

// Render produces the prompt text for msgs. addAssistant appends the
// generation cue for the assistant turn. Render never fails: template
// errors fall back to ChatML.
func (f *Formatter) Render(msgs []engine.Message, addAssistant bool) string {
	if f.tmpl != nil {
		if s, ok := f.renderNative(msgs, addAssistant); ok {
			return s
		}
	}
	return renderChatML(msgs, addAssistant)
}

func (f *Formatter) renderNative(msgs []engine.Message, addAssistant bool) (string, bool) {
	buf := make([]byte, f.bufSize)
	n, err := f.tmpl(msgs, addAssistant, buf)

	var sizeErr *engine.TemplateSizeError
	switch {
	case errors.As(err, &sizeErr):
		n = sizeErr.Need
	case err != nil:
		return "", false
	}

	if n > len(buf) {
		buf = make([]byte, n)
		n, err = f.tmpl(msgs, addAssistant, buf)
		if err != nil || n > len(buf) {
			return "", false
		}
	}
	if n < 0 {
		return "", false
	}
	return string(buf[:n]), true
}

// renderChatML produces the <|im_start|>/<|im_end|> framing used by the
// Qwen and ChatML model families.
func renderChatML(msgs []engine.Message, addAssistant bool) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString("<|im_start|>")
		sb.WriteString(m.Role)
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("<|im_end|>\n")
	}
	if addAssistant {
		sb.WriteString("<|im_start|>assistant\n")
	}
	return sb.String()
}
