package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ember/internal/logits"
	"github.com/samcharles93/ember/internal/session"
)

// genOptions are the generation tunables shared by chat and predict.
type genOptions struct {
	system        string
	maxTokens     int64
	temp          float64
	topK          int64
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int64
	seed          int64
	stopPatterns  []string
}

func (o *genOptions) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "optional system prompt",
			Destination: &o.system,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n", "num-tokens"},
			Usage:       "maximum tokens to generate per turn",
			Value:       session.DefaultMaxTokens,
			Destination: &o.maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0.8,
			Destination: &o.temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling parameter",
			Value:       40,
			Destination: &o.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "top-p sampling parameter",
			Value:       0.95,
			Destination: &o.topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Aliases:     []string{"min_p", "minp"},
			Usage:       "min-p sampling parameter (0.0 = disabled)",
			Value:       0.05,
			Destination: &o.minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       1.1,
			Destination: &o.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Aliases:     []string{"repeat_last_n"},
			Usage:       "last n tokens to penalize",
			Value:       64,
			Destination: &o.repeatLastN,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed (default -1 = random)",
			Value:       -1,
			Destination: &o.seed,
		},
		&cli.StringSliceFlag{
			Name:        "stop",
			Usage:       "stop pattern, repeatable",
			Destination: &o.stopPatterns,
		},
	}
}

func (o *genOptions) sessionConfig(model string) session.Config {
	seed := o.seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return session.Config{
		ModelPath:    model,
		ContextSize:  int(contextSize),
		BatchSize:    int(batchSize),
		Threads:      int(threads),
		GPULayers:    int(gpuLayers),
		MaxTokens:    int(o.maxTokens),
		StopPatterns: o.stopPatterns,
		SystemPrompt: o.system,
		Sampling: logits.Config{
			Seed:          seed,
			Temperature:   float32(o.temp),
			TopK:          int(o.topK),
			TopP:          float32(o.topP),
			MinP:          float32(o.minP),
			RepeatPenalty: float32(o.repeatPenalty),
			RepeatLastN:   int(o.repeatLastN),
		},
	}
}
