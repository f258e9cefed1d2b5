// Package logits implements the token-sampling pipeline: an ordered
// chain of filtering stages (repetition penalty, top-k truncation,
// temperature rescale, min-p, top-p cut) ending in a categorical draw.
// Stateful stages track accepted tokens and are cleared by Reset.
package logits

import (
	"fmt"
	"math"
	"math/rand"
)

// Config configures the sampling pipeline.
type Config struct {
	Seed          int64
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

// Sampler draws tokens from scoring output. It is not safe for
// concurrent use.
type Sampler struct {
	rng    *rand.Rand
	cfg    Config
	greedy bool

	// recent holds accepted tokens, bounded to RepeatLastN, feeding the
	// repetition-penalty stage.
	recent []int

	topIdx []int
	topVal []float32
	prob   []float64
}

// New returns a sampler with the provided configuration. Temperature at
// or below zero selects greedy argmax. Out-of-range values that cannot
// be defaulted are rejected.
func New(cfg Config) (*Sampler, error) {
	if cfg.TopK < 0 {
		return nil, fmt.Errorf("logits: top-k must not be negative, got %d", cfg.TopK)
	}
	if cfg.TopP < 0 || cfg.MinP < 0 || cfg.MinP > 1 {
		return nil, fmt.Errorf("logits: top-p %g / min-p %g out of range", cfg.TopP, cfg.MinP)
	}
	if cfg.RepeatPenalty < 0 {
		return nil, fmt.Errorf("logits: repeat penalty must not be negative, got %g", cfg.RepeatPenalty)
	}

	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK == 0 {
		cfg.TopK = 40
	}
	if cfg.TopP == 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty == 0 {
		cfg.RepeatPenalty = 1
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
		recent: make([]int, 0, cfg.RepeatLastN),
	}, nil
}

// Accept records tok into the repetition history. Call it for every
// token incorporated into the conversation, prompt and generated alike.
func (s *Sampler) Accept(tok int) {
	if len(s.recent) == cap(s.recent) {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, tok)
}

// Reset clears all stage state and reseeds the draw, so the next turn
// samples as a freshly built pipeline would.
func (s *Sampler) Reset() {
	s.recent = s.recent[:0]
	s.rng = rand.New(rand.NewSource(s.cfg.Seed))
}

// Sample draws one token index from the logits vector. The vector is
// modified in place by the penalty and temperature stages.
func (s *Sampler) Sample(logits []float32) int {
	s.penalizeRepeats(logits)

	if s.greedy || (s.cfg.TopK == 1 && s.cfg.TopP >= 1 && s.cfg.Temperature == 1) {
		return argmax(logits)
	}

	invTemp := float32(1.0) / s.cfg.Temperature
	k := min(s.cfg.TopK, len(logits))

	topIdx, topVal := s.topK(logits, k, invTemp)
	if len(topVal) == 0 {
		return 0
	}

	maxv := topVal[0]
	for _, v := range topVal[1:] {
		if v > maxv {
			maxv = v
		}
	}

	if cap(s.prob) < len(topVal) {
		s.prob = make([]float64, len(topVal))
	}
	prob := s.prob[:len(topVal)]
	var sum float64
	for i := range topVal {
		e := math.Exp(float64(topVal[i] - maxv))
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		return topIdx[0]
	}
	invSum := 1.0 / sum
	for i := range prob {
		prob[i] *= invSum
	}

	if s.cfg.MinP > 0 {
		threshold := prob[0] * float64(s.cfg.MinP)
		newLen := 0
		var newSum float64
		for i := range prob {
			if prob[i] >= threshold {
				prob[newLen] = prob[i]
				topIdx[newLen] = topIdx[i]
				newSum += prob[i]
				newLen++
			}
		}
		if newLen < len(prob) && newSum > 0 {
			prob = prob[:newLen]
			scale := 1.0 / newSum
			for i := range prob {
				prob[i] *= scale
			}
		}
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i]
			if float32(c) >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
	}

	r := s.rng.Float64()
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r <= c {
			return topIdx[i]
		}
	}
	return topIdx[cut-1]
}

// penalizeRepeats rescales the logits of tokens in the accept history.
func (s *Sampler) penalizeRepeats(logits []float32) {
	if s.cfg.RepeatPenalty <= 1 || len(s.recent) == 0 {
		return
	}
	seen := make(map[int]struct{}, len(s.recent))
	for _, id := range s.recent {
		if id < 0 || id >= len(logits) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}

// argmax returns the index of the maximum value. Empty input panics.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// topK returns the indices and values of the k largest elements, scaled
// by invTemp, ordered descending. O(V*K), fine for small k.
func (s *Sampler) topK(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if k <= 0 {
		return nil, nil
	}
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	topIdx := s.topIdx[:0]
	topVal := s.topVal[:0]

	for i, l := range logits {
		v := l * invTemp

		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)
		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v

		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	if len(topIdx) == 0 {
		return []int{0}, []float32{0}
	}
	s.topIdx = topIdx
	s.topVal = topVal
	return topIdx, topVal
}
