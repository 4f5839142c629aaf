// Package config loads comfyflow's YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ravi-parthasarathy/comfyflow/pkg/comfy"
	"github.com/ravi-parthasarathy/comfyflow/workflows"
)

// Environment variables that override file values.
const (
	EnvBaseURL = "COMFYFLOW_BASE_URL"
	EnvOutput  = "COMFYFLOW_OUTPUT"
)

// Config is the full configuration file.
type Config struct {
	Comfy  Comfy  `yaml:"comfy"`
	LoRA   LoRA   `yaml:"lora"`
	Prompt Prompt `yaml:"prompt"`
	Output Output `yaml:"output"`
}

// Comfy configures the backend connection and job polling. WorkflowsDir
// holds extra <family>.json templates; empty uses the embedded ones.
type Comfy struct {
	BaseURL        string        `yaml:"base_url"`
	WorkflowFamily string        `yaml:"workflow_family"`
	WorkflowsDir   string        `yaml:"workflows_dir"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LoRA is the adapter applied when no --lora flag is given.
type LoRA struct {
	Name          string  `yaml:"name"`
	StrengthModel float64 `yaml:"strength_model"`
	StrengthClip  float64 `yaml:"strength_clip"`
}

// Prompt configures prompt enhancement.
type Prompt struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Output configures where artifacts are written.
type Output struct {
	// Location is a directory or s3://bucket/prefix. Empty keeps artifacts
	// in memory only.
	Location      string `yaml:"location"`
	EmbedMetadata bool   `yaml:"embed_metadata"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Comfy: Comfy{
			BaseURL:        "http://127.0.0.1:8188",
			WorkflowFamily: workflows.DefaultFamily,
			PollTimeout:    comfy.DefaultPollTimeout,
			PollInterval:   comfy.DefaultPollInterval,
			RequestTimeout: 30 * time.Second,
		},
		LoRA:   LoRA{StrengthModel: 1.0, StrengthClip: 1.0},
		Prompt: Prompt{Model: "anthropic:claude-sonnet-4-5", MaxTokens: 4000},
		Output: Output{EmbedMetadata: true},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Comfy.BaseURL = v
	}
	if v := os.Getenv(EnvOutput); v != "" {
		c.Output.Location = v
	}
}

// Validate checks the configuration and clamps the poll timeout to the
// backend minimum.
func (c *Config) Validate() error {
	var errs []error
	if c.Comfy.BaseURL == "" {
		errs = append(errs, errors.New("comfy.base_url is required"))
	}
	if c.Comfy.WorkflowFamily == "" {
		errs = append(errs, errors.New("comfy.workflow_family is required"))
	}
	if c.Comfy.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("comfy.poll_interval must be positive, got %v", c.Comfy.PollInterval))
	}
	if c.Comfy.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("comfy.request_timeout must not be negative, got %v", c.Comfy.RequestTimeout))
	}
	if c.Comfy.PollTimeout < comfy.MinPollTimeout {
		slog.Debug("poll timeout raised to minimum", "configured", c.Comfy.PollTimeout, "min", comfy.MinPollTimeout)
		c.Comfy.PollTimeout = comfy.MinPollTimeout
	}
	for name, v := range map[string]float64{
		"lora.strength_model": c.LoRA.StrengthModel,
		"lora.strength_clip":  c.LoRA.StrengthClip,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%s must be finite", name))
		}
	}
	if c.Prompt.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("prompt.max_tokens must not be negative, got %d", c.Prompt.MaxTokens))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
