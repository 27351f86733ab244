// Package config - YAML configuration for the detection binaries.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-detect/controller"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logging"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/profiler"
)

// Config is the top-level configuration file.
type Config struct {
	Logging  logging.Config    `yaml:"logging"`
	Model    model.Config      `yaml:"model"`
	Runtime  inference.Config  `yaml:"runtime"`
	Pipeline controller.Config `yaml:"pipeline"`
	Profiler profiler.Options  `yaml:"profiler"`
	// ProfilerEnabled turns on periodic runtime reports.
	ProfilerEnabled bool `yaml:"profiler_enabled"`

	path string
}

// Default returns the configuration used when no file is given: the default
// model with COCO labels.
func Default() *Config {
	cfg := &Config{
		Model:    model.DefaultConfig(),
		Pipeline: controller.DefaultConfig(),
	}
	cfg.Model.Labels = append([]string(nil), models.COCOLabels...)
	return cfg
}

// Load reads, defaults and validates a configuration file.
//
// Relative model and label paths are resolved against the directory of the
// file. When neither labels nor a labels file are given the COCO labels are
// used.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - *Config: The configuration.
//   - error: Read, parse, label loading or validation errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	cfg.path = path

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// setDefaults fills unset fields and loads labels.
func (c *Config) setDefaults() error {
	c.Model.ApplyDefaults()
	if c.Pipeline.MinInterval <= 0 {
		c.Pipeline.MinInterval = controller.DefaultMinInterval
	}

	dir := filepath.Dir(c.path)
	c.Model.Path = resolve(dir, c.Model.Path)
	c.Model.LabelsPath = resolve(dir, c.Model.LabelsPath)

	switch {
	case len(c.Model.Labels) > 0:
	case c.Model.LabelsPath != "":
		labels, err := models.LoadLabelsFile(c.Model.LabelsPath)
		if err != nil {
			return err
		}
		c.Model.Labels = labels
	default:
		c.Model.Labels = append([]string(nil), models.COCOLabels...)
	}
	return nil
}

// Validate checks the sections that carry constraints.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return errors.Wrap(err, "model")
	}
	if err := c.Runtime.Provider.Validate(); err != nil {
		return errors.Wrap(err, "runtime")
	}
	if v := c.Pipeline.View; (v.Width > 0 || v.Height > 0) && !v.Policy.Valid() {
		return errors.Errorf("pipeline: view policy %q", v.Policy)
	}
	if q := c.Pipeline.Conversion.JPEGQuality; q < 0 || q > 100 {
		return errors.Errorf("pipeline: jpeg_quality %d", q)
	}
	return nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
