package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ember/internal/session"
)

func predictCmd() *cli.Command {
	var (
		opts   genOptions
		prompt string
		stats  bool
	)

	return &cli.Command{
		Name:  "predict",
		Usage: "Run a single prompt and print the completion",
		Flags: append(append(append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text",
				Destination: &prompt,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "print generation stats to stderr",
				Destination: &stats,
			},
		), opts.flags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			cfg := LoadConfig()
			applyGenConfig(cmd, cfg,
				&opts.temp, &opts.topK, &opts.topP, &opts.minP,
				&opts.repeatPenalty, &opts.maxTokens, &opts.seed,
				&opts.stopPatterns, &opts.system)
			log := buildLogger()

			model, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return err
			}

			sess, err := session.NewLoader(log, nil).Load(opts.sessionConfig(model))
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			defer sess.Close()

			res, err := sess.Predict(prompt)
			if err != nil {
				return err
			}
			fmt.Println(res.Text)
			if stats {
				fmt.Fprintf(os.Stderr, "[%s] %d prompt + %d generated tokens in %s (%.1f tok/s)\n",
					res.Reason, res.PromptTokens, res.TokensGenerated,
					res.Duration.Round(time.Millisecond), res.TPS)
			}
			return nil
		},
	}
}
