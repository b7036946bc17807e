package vision

import (
	"fmt"
	"log/slog"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// InferenceMode names the execution backend for the attribute models.
type InferenceMode string

const (
	ModeCPU   InferenceMode = "CPU"
	ModeNNAPI InferenceMode = "NNAPI" // dedicated accelerator, served by OpenVINO on Linux hosts
	ModeGPU   InferenceMode = "GPU"   // CUDA
)

// ParseInferenceMode accepts the mode name in any case; empty means CPU.
func ParseInferenceMode(s string) (InferenceMode, error) {
	switch InferenceMode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ModeCPU:
		return ModeCPU, nil
	case ModeNNAPI:
		return ModeNNAPI, nil
	case ModeGPU:
		return ModeGPU, nil
	default:
		return "", fmt.Errorf("unknown inference mode %q", s)
	}
}

// Backend configures ONNX Runtime session options for one execution provider.
type Backend interface {
	Name() string
	Apply(opts *ort.SessionOptions) error
	Close()
}

type cpuBackend struct{}

func (cpuBackend) Name() string { return string(ModeCPU) }
func (cpuBackend) Apply(*ort.SessionOptions) error { return nil }
func (cpuBackend) Close() {}

type cudaBackend struct {
	deviceID int
	opts     *ort.CUDAProviderOptions
}

func (b *cudaBackend) Name() string { return string(ModeGPU) }

func (b *cudaBackend) Apply(opts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("create cuda options: %w", err)
	}
	if err := cudaOpts.Update(map[string]string{"device_id": fmt.Sprint(b.deviceID)}); err != nil {
		cudaOpts.Destroy()
		return fmt.Errorf("update cuda options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		cudaOpts.Destroy()
		return fmt.Errorf("append cuda provider: %w", err)
	}
	b.opts = cudaOpts
	return nil
}

func (b *cudaBackend) Close() {
	if b.opts != nil {
		if err := b.opts.Destroy(); err != nil {
			slog.Warn("destroy cuda options", "error", err)
		}
		b.opts = nil
	}
}

type acceleratorBackend struct {
	device string
}

func (b *acceleratorBackend) Name() string { return string(ModeNNAPI) }

func (b *acceleratorBackend) Apply(opts *ort.SessionOptions) error {
	if err := opts.AppendExecutionProviderOpenVINO(map[string]string{"device_type": b.device}); err != nil {
		return fmt.Errorf("append openvino provider: %w", err)
	}
	return nil
}

func (b *acceleratorBackend) Close() {}

func newBackend(mode InferenceMode) Backend {
	switch mode {
	case ModeGPU:
		return &cudaBackend{}
	case ModeNNAPI:
		return &acceleratorBackend{device: "NPU"}
	default:
		return cpuBackend{}
	}
}

// sessionOptions builds session options for the requested mode. An accelerator
// that cannot be attached falls back to CPU once, here, at initialisation.
func sessionOptions(mode InferenceMode, threads int) (*ort.SessionOptions, Backend, error) {
	opts, backend, err := trySessionOptions(newBackend(mode), threads)
	if err == nil {
		return opts, backend, nil
	}
	if mode == ModeCPU {
		return nil, nil, err
	}
	slog.Warn("inference backend unsupported, falling back to CPU", "mode", mode, "error", err)
	return trySessionOptions(cpuBackend{}, threads)
}

func trySessionOptions(backend Backend, threads int) (*ort.SessionOptions, Backend, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, nil, fmt.Errorf("create session options: %w", err)
	}
	if threads > 0 {
		if err := opts.SetIntraOpNumThreads(threads); err != nil {
			opts.Destroy()
			return nil, nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	if err := backend.Apply(opts); err != nil {
		backend.Close()
		opts.Destroy()
		return nil, nil, err
	}
	return opts, backend, nil
}
