package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the ember configuration file (~/.config/ember/config.yaml).
// All tunables are pointers so "not set" is distinguishable from zero.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	// Sampling defaults
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	MinP          *float64 `yaml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	Seed          *int64   `yaml:"seed"`

	// Session defaults
	MaxContext   *int64   `yaml:"max_context"`
	MaxTokens    *int64   `yaml:"max_tokens"`
	GPULayers    *int64   `yaml:"gpu_layers"`
	StopPatterns []string `yaml:"stop"`
	SystemPrompt string   `yaml:"system_prompt"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ember", "config.yaml")
}

// applyGenConfig applies config file defaults to generation command
// variables when the corresponding CLI flag was not explicitly set.
func applyGenConfig(c *cli.Command, cfg Config,
	temp *float64, topK *int64, topP *float64, minP *float64,
	repeatPenalty *float64, maxTokens *int64, seed *int64,
	stopPatterns *[]string, system *string,
) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		contextSize = *cfg.MaxContext
	}
	if cfg.GPULayers != nil && !c.IsSet("gpu-layers") {
		gpuLayers = *cfg.GPULayers
	}
	if cfg.Temperature != nil && !c.IsSet("temp") && !c.IsSet("temperature") && !c.IsSet("t") {
		*temp = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") && !c.IsSet("top_k") && !c.IsSet("topk") {
		*topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") && !c.IsSet("top_p") && !c.IsSet("topp") {
		*topP = *cfg.TopP
	}
	if cfg.MinP != nil && !c.IsSet("min-p") && !c.IsSet("min_p") && !c.IsSet("minp") {
		*minP = *cfg.MinP
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") && !c.IsSet("repeat_penalty") {
		*repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		*maxTokens = *cfg.MaxTokens
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	if len(cfg.StopPatterns) > 0 && !c.IsSet("stop") {
		*stopPatterns = cfg.StopPatterns
	}
	if cfg.SystemPrompt != "" && !c.IsSet("system") && !c.IsSet("sys") {
		*system = cfg.SystemPrompt
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		contextSize = *cfg.MaxContext
	}
	if cfg.GPULayers != nil && !c.IsSet("gpu-layers") {
		gpuLayers = *cfg.GPULayers
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
