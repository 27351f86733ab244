package inference

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/model/preprocess"
)

func testModel() model.Config {
	cfg := model.DefaultConfig()
	cfg.Labels = []string{"a", "b", "c"}
	cfg.NumAnchors = 100
	cfg.InputWidth, cfg.InputHeight = 320, 256
	cfg.Path = "missing.onnx"
	return cfg
}

func TestEngineFunc(t *testing.T) {
	var got *preprocess.Tensor
	e := EngineFunc(func(_ context.Context, in *preprocess.Tensor) ([]float32, error) {
		got = in
		return []float32{1, 2, 3}, nil
	})

	in := &preprocess.Tensor{}
	out, err := e.Forward(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, out)
	assert.Same(t, in, got)
	assert.NoError(t, e.Close())
}

// TestONNXEngine_LoadFailureIsSticky verifies a failed load surfaces as
// ErrModelLoad and is not retried.
func TestONNXEngine_LoadFailureIsSticky(t *testing.T) {
	if ort.IsInitialized() {
		t.Skip("runtime already initialized in this process")
	}

	cfg := Config{LibraryPath: filepath.Join(t.TempDir(), "no-such-onnxruntime.so")}
	e := NewONNXEngine(cfg, testModel(), zaptest.NewLogger(t))
	defer e.Close()

	_, err := e.Forward(context.Background(), &preprocess.Tensor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelLoad)

	second := e.Load()
	assert.Same(t, err, second, "load error should be remembered, not retried")
}

// TestONNXEngine_CancelledContext verifies nothing is loaded for a dead context.
func TestONNXEngine_CancelledContext(t *testing.T) {
	e := NewONNXEngine(Config{LibraryPath: "unused"}, testModel(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Forward(ctx, &preprocess.Tensor{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrModelLoad)
	assert.Nil(t, e.loadErr)
}

func TestONNXEngine_Closed(t *testing.T) {
	e := NewONNXEngine(Config{}, testModel(), nil)
	require.NoError(t, e.Close())

	_, err := e.Forward(context.Background(), &preprocess.Tensor{})
	assert.ErrorIs(t, err, ErrModelLoad)
}

func TestConfig_GetSharedLibPath(t *testing.T) {
	t.Setenv(LibraryPathEnv, "")
	assert.NotEmpty(t, Config{}.GetSharedLibPath())

	t.Setenv(LibraryPathEnv, "/opt/ort/libonnxruntime.so")
	assert.Equal(t, "/opt/ort/libonnxruntime.so", Config{}.GetSharedLibPath())
	assert.Equal(t, "/custom.so", Config{LibraryPath: "/custom.so"}.GetSharedLibPath())
}

func TestShapes(t *testing.T) {
	m := testModel()
	assert.Equal(t, ort.NewShape(1, 3, 256, 320), InputShape(m))
	assert.Equal(t, ort.NewShape(1, 100, 8), OutputShape(m))
	assert.Equal(t, int64(m.OutputLen()), OutputShape(m).FlattenedSize())

	m.ChannelOrder = model.ChannelOrderHWC
	assert.Equal(t, ort.NewShape(1, 256, 320, 3), InputShape(m))
}

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		cfg     ProviderConfig
		wantErr bool
	}{
		{cfg: ProviderConfig{}},
		{cfg: ProviderConfig{Backend: CPUProviderBackend}},
		{cfg: ProviderConfig{Backend: CUDAProviderBackend, DeviceID: 1}},
		{cfg: ProviderConfig{Backend: CoreMLProviderBackend}},
		{cfg: ProviderConfig{Backend: OpenVINOProviderBackend, DeviceType: "GPU"}},
		{cfg: ProviderConfig{Backend: "tpu"}, wantErr: true},
		{cfg: ProviderConfig{Backend: CUDAProviderBackend, DeviceID: -1}, wantErr: true},
	}

	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.wantErr {
			assert.Error(t, err, "%+v", tt.cfg)
		} else {
			assert.NoError(t, err, "%+v", tt.cfg)
		}
	}

	assert.Equal(t, map[string]string{"device_type": "NPU"}, ProviderConfig{DeviceType: "NPU"}.openVINOOptions())
}
