package inference

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the ONNX Runtime shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// Config holds ONNX Runtime settings.
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty uses
	// LibraryPathEnv, then the platform default.
	LibraryPath string `yaml:"library_path"`
	// IntraOpThreads parallelizes work inside a node. 0 lets the runtime decide.
	IntraOpThreads int `yaml:"intra_op_threads"`
	// InterOpThreads parallelizes independent nodes. 0 lets the runtime decide.
	InterOpThreads int `yaml:"inter_op_threads"`
	// Provider selects the hardware backend.
	Provider ProviderConfig `yaml:"provider"`
}

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The configured path, the LibraryPathEnv value, or the platform default.
func (c Config) GetSharedLibPath() string {
	if c.LibraryPath != "" {
		return c.LibraryPath
	}
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}

	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}

// envMu serializes environment setup; ONNX Runtime allows one environment per
// process.
var envMu sync.Mutex

// initEnvironment loads the native library once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s (set %s)", libPath, LibraryPathEnv)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}
