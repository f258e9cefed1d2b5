package logits

import "testing"

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical results when sampling the same logits vector.
func TestSamplerDeterminism(t *testing.T) {
	logs := []float32{0, 1, 2, 3, 4, 5}
	s1, err := New(Config{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s2, err := New(Config{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := s1.Sample(append([]float32(nil), logs...))
	b := s2.Sample(append([]float32(nil), logs...))
	if a != b {
		t.Fatalf("expected deterministic sample, got %d vs %d", a, b)
	}
}

// TestSamplerGreedy tests that zero temperature returns the index of the
// maximum logit.
func TestSamplerGreedy(t *testing.T) {
	logs := []float32{-1, 5, 3, 7, 2}
	s, err := New(Config{Seed: 99, Temperature: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if idx := s.Sample(logs); idx != 3 {
		t.Fatalf("expected greedy index 3, got %d", idx)
	}
}

// TestSamplerTopP ensures that setting TopP less than 1 restricts sampling
// to a prefix of candidates. In this contrived example, the cumulative
// probability after the first element is >TopP, so only the first index
// should ever be returned.
func TestSamplerTopP(t *testing.T) {
	logs := []float32{10, 0, 0, 0, 0}
	s, err := New(Config{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		work := append([]float32(nil), logs...)
		if idx := s.Sample(work); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

// TestSamplerRepeatPenalty checks that accepted tokens are demoted by the
// penalty stage under greedy sampling.
func TestSamplerRepeatPenalty(t *testing.T) {
	s, err := New(Config{Seed: 1, Temperature: 0, RepeatPenalty: 10, RepeatLastN: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logs := []float32{1.0, 0.9, 0.1}
	if idx := s.Sample(append([]float32(nil), logs...)); idx != 0 {
		t.Fatalf("expected index 0 before penalty, got %d", idx)
	}
	s.Accept(0)
	if idx := s.Sample(append([]float32(nil), logs...)); idx != 1 {
		t.Fatalf("expected penalized resample to pick 1, got %d", idx)
	}
}

// TestSamplerRepeatWindow verifies the accept history is bounded: once a
// token falls out of the window it is no longer penalized.
func TestSamplerRepeatWindow(t *testing.T) {
	s, err := New(Config{Seed: 1, Temperature: 0, RepeatPenalty: 10, RepeatLastN: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Accept(0)
	s.Accept(1)
	s.Accept(2) // pushes 0 out
	logs := []float32{1.0, 0.9, 0.8}
	if idx := s.Sample(append([]float32(nil), logs...)); idx != 0 {
		t.Fatalf("expected expired token 0 to win, got %d", idx)
	}
}

// TestSamplerReset confirms Reset restores both the repetition history and
// the draw sequence.
func TestSamplerReset(t *testing.T) {
	cfg := Config{Seed: 42, Temperature: 0.8, TopK: 4, TopP: 0.95, RepeatPenalty: 1.5, RepeatLastN: 16}
	logs := []float32{0, 1, 2, 3, 4, 5}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var first []int
	for i := 0; i < 5; i++ {
		tok := s.Sample(append([]float32(nil), logs...))
		s.Accept(tok)
		first = append(first, tok)
	}

	s.Reset()
	for i := 0; i < 5; i++ {
		tok := s.Sample(append([]float32(nil), logs...))
		s.Accept(tok)
		if tok != first[i] {
			t.Fatalf("draw %d after reset: got %d, want %d", i, tok, first[i])
		}
	}
}

// TestSamplerConfigValidation rejects out-of-range parameters.
func TestSamplerConfigValidation(t *testing.T) {
	bad := []Config{
		{TopK: -1},
		{TopP: -0.1},
		{MinP: -0.1},
		{MinP: 1.5},
		{RepeatPenalty: -2},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, cfg)
		}
	}
	if _, err := New(Config{}); err != nil {
		t.Fatalf("zero config should be valid, got %v", err)
	}
}
