package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ember/internal/session"
)

func chatCmd() *cli.Command {
	var opts genOptions

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive multi-turn chat with a model",
		Flags: append(append(commonModelFlags(), opts.flags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
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

			fmt.Fprintln(os.Stderr, "Interactive chat. Type /reset to clear the conversation, /exit to quit.")
			for {
				input, err := readChatLine("> ")
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
				switch strings.TrimSpace(input) {
				case "":
					continue
				case "/exit":
					return nil
				case "/reset":
					if err := sess.Reset(); err != nil {
						log.Error("reset failed", "error", err)
						continue
					}
					fmt.Fprintln(os.Stderr, "conversation cleared")
					continue
				}

				res, err := sess.Predict(input)
				if err != nil {
					log.Error("turn failed", "error", err)
					if sess.Degraded() {
						fmt.Fprintln(os.Stderr, "session degraded; /reset to recover")
					}
					continue
				}
				fmt.Println(res.Text)
				log.Debug("turn stats",
					"reason", res.Reason,
					"generated", res.TokensGenerated,
					"position", sess.Position(),
					"tps", res.TPS)

				if res.Reason == session.StopContextLimit {
					fmt.Fprintln(os.Stderr, "context window full; /reset to continue")
				}
			}
		},
	}
}
