package inference

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend selects the ONNX Runtime execution provider.
type ProviderBackend string

const (
	// CPUProviderBackend is the default provider built into every runtime.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// ProviderConfig picks and tunes the execution provider.
type ProviderConfig struct {
	// Backend is one of cpu, cuda, coreml, openvino. Empty means cpu.
	Backend ProviderBackend `yaml:"backend"`
	// DeviceID selects the GPU for CUDA.
	DeviceID int `yaml:"device_id"`
	// DeviceType is the OpenVINO target, e.g. CPU, GPU or NPU.
	DeviceType string `yaml:"device_type"`
}

// Validate rejects unknown backends.
func (p ProviderConfig) Validate() error {
	switch p.Backend {
	case "", CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
	default:
		return errors.Errorf("unknown execution provider %q", p.Backend)
	}
	if p.DeviceID < 0 {
		return errors.Errorf("device_id %d", p.DeviceID)
	}
	return nil
}

// openVINOOptions maps the config to the provider's option keys.
func (p ProviderConfig) openVINOOptions() map[string]string {
	opts := map[string]string{}
	if p.DeviceType != "" {
		opts["device_type"] = p.DeviceType
	}
	return opts
}

// appendProvider registers the configured execution provider on options. The
// CPU provider needs no registration.
func appendProvider(options *ort.SessionOptions, p ProviderConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}

	switch p.Backend {
	case CoreMLProviderBackend:
		return errors.Wrap(options.AppendExecutionProviderCoreML(0), "error enabling CoreML")
	case OpenVINOProviderBackend:
		return errors.Wrap(options.AppendExecutionProviderOpenVINO(p.openVINOOptions()), "error enabling OpenVINO")
	case CUDAProviderBackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()

		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(p.DeviceID)}); err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "error enabling CUDA")
	}
	return nil
}
