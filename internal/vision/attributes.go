package vision

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"
)

// Settings is the runtime-mutable part of the vision configuration.
// Any change reinitialises the model boundary.
type Settings struct {
	InferenceMode InferenceMode `json:"inference_mode"`
	OnlyFrontFace bool          `json:"only_front_face"`
	ModelVariant  int           `json:"model_variant"`
}

// InferenceModes lists the accepted inference mode names.
var InferenceModes = []InferenceMode{ModeCPU, ModeNNAPI, ModeGPU}

// Merge returns s with the non-nil fields replaced, validated.
func (s Settings) Merge(mode *string, onlyFrontFace *bool, variant *int) (Settings, error) {
	if mode != nil {
		m, err := ParseInferenceMode(*mode)
		if err != nil {
			return s, err
		}
		s.InferenceMode = m
	}
	if onlyFrontFace != nil {
		s.OnlyFrontFace = *onlyFrontFace
	}
	if variant != nil {
		if _, err := VariantByIndex(*variant); err != nil {
			return s, err
		}
		s.ModelVariant = *variant
	}
	return s, nil
}

// AgeEstimator maps a square face crop to an age in years. Zero means no estimate.
type AgeEstimator interface {
	EstimateAge(face image.Image) (float32, error)
}

// GenderClassifier maps a square face crop to (pFemale, pMale).
// A result below the confidence threshold is returned as the zero GenderScores.
type GenderClassifier interface {
	ClassifyGender(face image.Image) (GenderScores, error)
}

// AttributeModels is the loaded model boundary. Implementations need not be
// safe for concurrent use; the engine serialises every call.
type AttributeModels interface {
	AgeEstimator
	GenderClassifier
	Close() error
}

// ModelLoader builds the model boundary for the given settings.
type ModelLoader func(Settings) (AttributeModels, error)

// ModelVariant is one age/gender model pair shipped in the models directory.
type ModelVariant struct {
	Name       string `json:"name"`
	AgeFile    string `json:"age_file"`
	GenderFile string `json:"gender_file"`
}

// ModelVariants lists the selectable variants by index.
var ModelVariants = []ModelVariant{
	{Name: "quantized", AgeFile: "model_age_q.onnx", GenderFile: "model_gender_q.onnx"},
	{Name: "full", AgeFile: "model_age_nonq.onnx", GenderFile: "model_gender_nonq.onnx"},
	{Name: "lite-quantized", AgeFile: "model_lite_age_q.onnx", GenderFile: "model_lite_gender_q.onnx"},
	{Name: "lite", AgeFile: "model_lite_age_nonq.onnx", GenderFile: "model_lite_gender_nonq.onnx"},
}

// VariantByIndex returns the model variant at index i.
func VariantByIndex(i int) (ModelVariant, error) {
	if i < 0 || i >= len(ModelVariants) {
		return ModelVariant{}, fmt.Errorf("model variant %d out of range [0,%d)", i, len(ModelVariants))
	}
	return ModelVariants[i], nil
}

// ModelConfig holds the static part of the ONNX model setup.
type ModelConfig struct {
	Dir             string
	GenderThreshold float32
	NumThreads      int
}

const (
	ageInputSize    = 200
	genderInputSize = 128
	// ageScale converts the age regressor's normalised output to years.
	ageScale = 116
)

var (
	zeroMean = [3]float32{0, 0, 0}
	unitStd  = [3]float32{255, 255, 255}
)

// ONNXLoader returns a ModelLoader backed by ONNX Runtime.
// The runtime environment must already be initialised.
func ONNXLoader(cfg ModelConfig) ModelLoader {
	return func(s Settings) (AttributeModels, error) {
		return LoadONNXModels(cfg, s)
	}
}

// ONNXModels runs the age and gender models through ONNX Runtime sessions
// sharing one backend.
type ONNXModels struct {
	age       *onnxModel
	gender    *onnxModel
	threshold float32
	opts      *ort.SessionOptions
	backend   Backend
}

// LoadONNXModels loads the variant selected by s from cfg.Dir.
func LoadONNXModels(cfg ModelConfig, s Settings) (*ONNXModels, error) {
	variant, err := VariantByIndex(s.ModelVariant)
	if err != nil {
		return nil, err
	}
	opts, backend, err := sessionOptions(s.InferenceMode, cfg.NumThreads)
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}

	agePath := filepath.Join(cfg.Dir, variant.AgeFile)
	slog.Info("loading age model", "path", agePath, "backend", backend.Name())
	age, err := loadONNXModel(agePath, opts, ageInputSize)
	if err != nil {
		backend.Close()
		opts.Destroy()
		return nil, fmt.Errorf("load age model: %w", err)
	}

	genderPath := filepath.Join(cfg.Dir, variant.GenderFile)
	slog.Info("loading gender model", "path", genderPath, "backend", backend.Name())
	gender, err := loadONNXModel(genderPath, opts, genderInputSize)
	if err != nil {
		_ = age.destroy()
		backend.Close()
		opts.Destroy()
		return nil, fmt.Errorf("load gender model: %w", err)
	}

	threshold := cfg.GenderThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	return &ONNXModels{
		age:       age,
		gender:    gender,
		threshold: threshold,
		opts:      opts,
		backend:   backend,
	}, nil
}

// EstimateAge runs the age regressor on a face crop.
func (m *ONNXModels) EstimateAge(face image.Image) (float32, error) {
	out, err := m.age.run(face)
	if err != nil {
		return 0, fmt.Errorf("run age: %w", err)
	}
	age := out[0] * ageScale
	if age < 0 {
		age = 0
	}
	return age, nil
}

// ClassifyGender runs the gender classifier on a face crop.
func (m *ONNXModels) ClassifyGender(face image.Image) (GenderScores, error) {
	out, err := m.gender.run(face)
	if err != nil {
		return GenderScores{}, fmt.Errorf("run gender: %w", err)
	}
	if len(out) < 2 {
		return GenderScores{}, fmt.Errorf("unexpected gender output size: %d", len(out))
	}
	return thresholdGender(GenderScores{Female: out[0], Male: out[1]}, m.threshold), nil
}

// Backend returns the name of the execution backend in use.
func (m *ONNXModels) Backend() string {
	return m.backend.Name()
}

// Close releases sessions, tensors, session options and the backend.
func (m *ONNXModels) Close() error {
	err := errors.Join(m.age.destroy(), m.gender.destroy())
	if m.opts != nil {
		err = errors.Join(err, m.opts.Destroy())
	}
	m.backend.Close()
	return err
}

func thresholdGender(g GenderScores, threshold float32) GenderScores {
	if g.Max() < threshold {
		return GenderScores{}
	}
	return g
}

// onnxModel is a single-input single-output image model.
type onnxModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	size    int
	chw     bool
}

func loadONNXModel(path string, opts *ort.SessionOptions, defaultSize int) (*onnxModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("%s: expected one input and one output, got %d/%d", path, len(inputs), len(outputs))
	}

	inShape, size, chw := imageInputShape(inputs[0].Dimensions, defaultSize)
	inputTensor, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](concreteShape(outputs[0].Dimensions))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &onnxModel{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		size:    size,
		chw:     chw,
	}, nil
}

func (m *onnxModel) run(face image.Image) ([]float32, error) {
	fillTensor(m.input.GetData(), face, m.size, m.size, m.chw, zeroMean, unitStd)
	if err := m.session.Run(); err != nil {
		return nil, err
	}
	data := m.output.GetData()
	if len(data) == 0 {
		return nil, errors.New("empty output")
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (m *onnxModel) destroy() error {
	var err error
	if m.session != nil {
		err = errors.Join(err, m.session.Destroy())
	}
	if m.input != nil {
		err = errors.Join(err, m.input.Destroy())
	}
	if m.output != nil {
		err = errors.Join(err, m.output.Destroy())
	}
	return err
}

// imageInputShape resolves a 4-D image input to a batch-1 square shape.
// Models exported from channels-last frameworks keep NHWC; otherwise NCHW.
func imageInputShape(dims ort.Shape, defaultSize int) (ort.Shape, int, bool) {
	size := defaultSize
	if len(dims) == 4 && dims[1] == 3 {
		if dims[2] > 0 {
			size = int(dims[2])
		}
		return ort.NewShape(1, 3, int64(size), int64(size)), size, true
	}
	if len(dims) == 4 && dims[1] > 0 {
		size = int(dims[1])
	}
	return ort.NewShape(1, int64(size), int64(size), 3), size, false
}

// concreteShape replaces symbolic dimensions with 1.
func concreteShape(dims ort.Shape) ort.Shape {
	out := make(ort.Shape, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}
