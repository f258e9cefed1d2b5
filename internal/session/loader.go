package session

import (
	"fmt"
	"io"
	"os"

	"github.com/samcharles93/ember/internal/engine"
	"github.com/samcharles93/ember/internal/logger"
	"github.com/samcharles93/ember/internal/logits"
	"github.com/samcharles93/ember/internal/prompt"
	"github.com/samcharles93/ember/internal/stop"
)

// Loader builds sessions. The zero value is not usable; construct with
// NewLoader.
type Loader struct {
	open engine.OpenFunc
	log  logger.Logger
}

// NewLoader returns a loader using the native engine binding. open may
// be nil to select the default binding.
func NewLoader(log logger.Logger, open engine.OpenFunc) *Loader {
	if open == nil {
		open = engine.Open
	}
	if log == nil {
		log = logger.Default()
	}
	return &Loader{open: open, log: log}
}

// Load acquires every resource a session needs: the model and decode
// context, the sampling pipeline, and the reusable batch. Any step
// failing releases everything acquired before it; a half-built session
// is never returned.
func (l *Loader) Load(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	log := l.log.With("model", cfg.ModelPath)

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no model path", engine.ErrModelLoad)
	}
	if err := sniffModel(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrModelLoad, err)
	}

	eng, err := l.open(cfg.ModelPath, engine.Params{
		ContextSize:  cfg.ContextSize,
		BatchSize:    cfg.BatchSize,
		Threads:      cfg.Threads,
		BatchThreads: cfg.BatchThreads,
		GPULayers:    cfg.GPULayers,
	})
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	sampler, err := logits.New(cfg.Sampling)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("build sampler: %w", err)
	}

	batch, err := engine.NewBatch(cfg.BatchSize)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("allocate batch: %w", err)
	}

	log.Debug("session loaded",
		"context_size", cfg.ContextSize,
		"batch_size", cfg.BatchSize,
		"gpu_layers", cfg.GPULayers,
		"vocab_size", eng.VocabSize())

	return &Session{
		cfg:     cfg,
		log:     log,
		eng:     eng,
		sampler: sampler,
		batch:   batch,
		fmtr:    prompt.New(eng.ApplyTemplate, cfg.TemplateBufSize),
		det:     stop.New(cfg.StopPatterns, cfg.StopWindow),
	}, nil
}

// sniffModel checks the file exists and carries the GGUF magic, so an
// obviously wrong path fails before the engine maps the file.
func sniffModel(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return fmt.Errorf("read magic: %v", err)
	}
	if string(magic[:]) != "GGUF" {
		return fmt.Errorf("%s is not a GGUF model file", path)
	}
	return nil
}
