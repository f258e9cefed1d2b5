package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ember/internal/logger"
	"github.com/samcharles93/ember/internal/session"
)

var (
	modelPath   string
	modelsPath  string
	contextSize int64
	batchSize   int64
	threads     int64
	gpuLayers   int64
	logLevel    string
	logFormat   string
	debug       bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .gguf model file",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "path to directory containing .gguf models",
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"max-ctx", "ctx", "c"},
			Usage:       "context window size",
			Value:       session.DefaultContextSize,
			Destination: &contextSize,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"batch"},
			Usage:       "decode batch capacity",
			Value:       session.DefaultBatchSize,
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "CPU threads for decoding",
			Value:       session.DefaultThreads,
			Destination: &threads,
		},
		&cli.Int64Flag{
			Name:        "gpu-layers",
			Aliases:     []string{"ngl"},
			Usage:       "layers to offload to the GPU (0 = CPU only)",
			Destination: &gpuLayers,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.Default()
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
