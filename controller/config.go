// Package controller - Frame admission, the analyze pipeline and the live and
// still sessions that drive it.
package controller

import (
	"time"

	"github.com/nvr-ai/go-detect/models/model/preprocess"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// Config holds the pipeline settings that are not tied to a model.
type Config struct {
	// MinInterval is the throttle interval for live frames.
	MinInterval time.Duration `yaml:"min_interval"`
	// Conversion controls how camera frames become RGB.
	Conversion preprocess.Options `yaml:"conversion"`
	// View is the default display surface. Sessions may override it.
	View postprocess.View `yaml:"view"`
}

// DefaultConfig returns a 10ms throttle, direct YUV conversion and no view.
func DefaultConfig() Config {
	return Config{MinInterval: DefaultMinInterval}
}
