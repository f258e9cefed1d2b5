package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ember/internal/api"
	"github.com/samcharles93/ember/internal/session"
)

func serveCmd() *cli.Command {
	var (
		opts        genOptions
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve sessions over a REST API",
		Flags: append(append(append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		), opts.flags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyGenConfig(cmd, cfg,
				&opts.temp, &opts.topK, &opts.topP, &opts.minP,
				&opts.repeatPenalty, &opts.maxTokens, &opts.seed,
				&opts.stopPatterns, &opts.system)
			applyServeConfig(cmd, cfg, &addr)
			log := buildLogger()

			// The default model is optional for serve: requests may name
			// their own.
			defaults := opts.sessionConfig(modelPath)
			if modelPath == "" && modelsPath != "" {
				if model, err := resolveModelPath("", modelsPath, os.Stdin, os.Stderr); err == nil {
					defaults.ModelPath = model
				}
			}

			store := api.NewSessionStore()
			defer store.CloseAll()
			server := api.NewServer(session.NewLoader(log, nil), store, defaults)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
