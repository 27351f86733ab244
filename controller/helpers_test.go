package controller

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
)

// testModel is an 8x8, single anchor, two class model.
func testModel() model.Config {
	cfg := model.DefaultConfig()
	cfg.Labels = []string{"person", "car"}
	cfg.NumAnchors = 1
	cfg.InputWidth, cfg.InputHeight = 8, 8
	return cfg
}

// personRow is one anchor centered in the 8x8 model input, 2x2 wide.
func personRow() []float32 {
	return []float32{4, 4, 2, 2, 0.9, 0.9, 0.1}
}

// grayFrame returns an RGBA frame of the given size and a flag set on release.
func grayFrame(w, h int) (*images.Frame, *releaseCounter) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	rc := &releaseCounter{}
	f := images.NewFrame(w, h, images.FormatRGBA, []images.Plane{{
		Data:        img.Pix,
		RowStride:   img.Stride,
		PixelStride: 4,
	}}, rc.release)
	return f, rc
}

type releaseCounter struct {
	mu sync.Mutex
	n  int
}

func (r *releaseCounter) release() {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
}

func (r *releaseCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// fakeMode lets tests script Analyze and observe Present.
type fakeMode struct {
	analyze func(ctx context.Context, frame *images.Frame) (Result, error)

	mu        sync.Mutex
	presented []Result
}

func (m *fakeMode) Analyze(ctx context.Context, frame *images.Frame) (Result, error) {
	defer frame.Close()
	if m.analyze == nil {
		return Result{}, nil
	}
	return m.analyze(ctx, frame)
}

func (m *fakeMode) Present(result Result) {
	m.mu.Lock()
	m.presented = append(m.presented, result)
	m.mu.Unlock()
}

func (m *fakeMode) presentedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.presented)
}
