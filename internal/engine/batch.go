package engine

import "fmt"

// Batch is a bounded, ordered sequence of decode entries. Each entry
// carries a token, its position in the conversation, a sequence id and a
// flag requesting scoring output. The backing storage is allocated once
// and reused across decode calls.
type Batch struct {
	tokens []Token
	pos    []int32
	seq    []int32
	logits []bool
	n      int
}

// NewBatch allocates a batch with the given entry capacity.
func NewBatch(capacity int) (*Batch, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("engine: batch capacity must be positive, got %d", capacity)
	}
	return &Batch{
		tokens: make([]Token, capacity),
		pos:    make([]int32, capacity),
		seq:    make([]int32, capacity),
		logits: make([]bool, capacity),
	}, nil
}

// Add appends one entry. Adding beyond capacity fails with
// ErrBatchCapacityExceeded rather than truncating.
func (b *Batch) Add(tok Token, pos int32, seq int32, wantLogits bool) error {
	if b.n >= len(b.tokens) {
		return fmt.Errorf("%w: capacity %d", ErrBatchCapacityExceeded, len(b.tokens))
	}
	b.tokens[b.n] = tok
	b.pos[b.n] = pos
	b.seq[b.n] = seq
	b.logits[b.n] = wantLogits
	b.n++
	return nil
}

// Clear resets the entry count. Storage is retained for reuse.
func (b *Batch) Clear() { b.n = 0 }

// Len reports the number of entries.
func (b *Batch) Len() int { return b.n }

// Capacity reports the maximum number of entries.
func (b *Batch) Capacity() int { return len(b.tokens) }

// Tokens returns the populated token entries.
func (b *Batch) Tokens() []Token { return b.tokens[:b.n] }

// Positions returns the populated position entries.
func (b *Batch) Positions() []int32 { return b.pos[:b.n] }

// Sequences returns the populated sequence-id entries.
func (b *Batch) Sequences() []int32 { return b.seq[:b.n] }

// WantsLogits reports whether entry i requests scoring output.
func (b *Batch) WantsLogits(i int) bool { return b.logits[i] }
