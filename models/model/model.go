// Package model - Configuration constants of a single-stage detection model.
package model

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/models/postprocess"
)

// ChannelOrder defines the ordering of tensor channels.
type ChannelOrder string

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = "chw"
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC ChannelOrder = "hwc"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid model config")

// Config holds everything needed to feed a model and read its output.
type Config struct {
	// Name of the model, for logs.
	Name string `yaml:"name"`
	// Path is the model artifact on disk.
	Path string `yaml:"path"`
	// LabelsPath is a text file with one label per line. Used when Labels is empty.
	LabelsPath string `yaml:"labels_path"`
	// Labels are the class names, in class id order.
	Labels []string `yaml:"labels"`

	// InputName and OutputName are the graph node names.
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`

	InputWidth  int `yaml:"input_width"`
	InputHeight int `yaml:"input_height"`
	// NumAnchors is the number of rows in the raw output.
	NumAnchors int `yaml:"num_anchors"`
	// Layout pins how class scores relate to objectness.
	Layout postprocess.OutputLayout `yaml:"layout"`

	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
	IoUThreshold        float32 `yaml:"iou_threshold"`
	// NMSWorkers bounds the goroutines suppressing class groups.
	NMSWorkers int `yaml:"nms_workers"`

	// Mean and Std are per-channel, applied as (v/255 - mean) / std.
	Mean         []float32    `yaml:"mean"`
	Std          []float32    `yaml:"std"`
	ChannelOrder ChannelOrder `yaml:"channel_order"`
}

// DefaultConfig returns the settings of a 640x640 YOLOv5-style export with
// 25200 anchors and no mean/std normalization.
func DefaultConfig() Config {
	return Config{
		Name:                "yolov5s",
		InputName:           "images",
		OutputName:          "output0",
		InputWidth:          640,
		InputHeight:         640,
		NumAnchors:          25200,
		Layout:              postprocess.LayoutObjectnessSeparate,
		ConfidenceThreshold: 0.30,
		IoUThreshold:        0.45,
		Mean:                []float32{0, 0, 0},
		Std:                 []float32{1, 1, 1},
		ChannelOrder:        ChannelOrderCHW,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig. Labels and paths are
// left alone.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.InputName == "" {
		c.InputName = d.InputName
	}
	if c.OutputName == "" {
		c.OutputName = d.OutputName
	}
	if c.InputWidth == 0 {
		c.InputWidth = d.InputWidth
	}
	if c.InputHeight == 0 {
		c.InputHeight = d.InputHeight
	}
	if c.NumAnchors == 0 {
		c.NumAnchors = d.NumAnchors
	}
	if c.Layout == "" {
		c.Layout = d.Layout
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.IoUThreshold == 0 {
		c.IoUThreshold = d.IoUThreshold
	}
	if len(c.Mean) == 0 {
		c.Mean = d.Mean
	}
	if len(c.Std) == 0 {
		c.Std = d.Std
	}
	if c.ChannelOrder == "" {
		c.ChannelOrder = d.ChannelOrder
	}
}

// Validate checks the constants are usable together.
func (c *Config) Validate() error {
	switch {
	case c.InputWidth <= 0 || c.InputHeight <= 0:
		return errors.Wrapf(ErrInvalidConfig, "input size %dx%d", c.InputWidth, c.InputHeight)
	case c.NumAnchors <= 0:
		return errors.Wrapf(ErrInvalidConfig, "num_anchors %d", c.NumAnchors)
	case len(c.Labels) == 0:
		return errors.Wrap(ErrInvalidConfig, "no labels")
	case !c.Layout.Valid():
		return errors.Wrapf(ErrInvalidConfig, "layout %q", c.Layout)
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return errors.Wrapf(ErrInvalidConfig, "confidence_threshold %v", c.ConfidenceThreshold)
	case c.IoUThreshold < 0 || c.IoUThreshold > 1:
		return errors.Wrapf(ErrInvalidConfig, "iou_threshold %v", c.IoUThreshold)
	case len(c.Mean) != 3 || len(c.Std) != 3:
		return errors.Wrapf(ErrInvalidConfig, "mean/std need 3 channels, got %d/%d", len(c.Mean), len(c.Std))
	case c.ChannelOrder != ChannelOrderCHW && c.ChannelOrder != ChannelOrderHWC:
		return errors.Wrapf(ErrInvalidConfig, "channel_order %q", c.ChannelOrder)
	}
	for i, s := range c.Std {
		if s == 0 {
			return errors.Wrapf(ErrInvalidConfig, "std[%d] is zero", i)
		}
	}
	return nil
}

// NumClasses is the number of class columns per output row.
func (c *Config) NumClasses() int {
	return len(c.Labels)
}

// OutputLen is the expected raw output length.
func (c *Config) OutputLen() int {
	return c.NumAnchors * (5 + c.NumClasses())
}

// Label returns the name of a class id, or "unknown" when out of range.
func (c *Config) Label(id int) string {
	if id < 0 || id >= len(c.Labels) {
		return "unknown"
	}
	return c.Labels[id]
}

// Decoder builds the output decoder for this model.
func (c *Config) Decoder() *postprocess.Decoder {
	return &postprocess.Decoder{
		NumAnchors: c.NumAnchors,
		NumClasses: c.NumClasses(),
		Layout:     c.Layout,
		NumWorkers: c.NMSWorkers,
	}
}
