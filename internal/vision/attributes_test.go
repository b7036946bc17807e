package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestThresholdGender(t *testing.T) {
	t.Parallel()
	assert.Equal(t, GenderScores{}, thresholdGender(GenderScores{Female: 0.5, Male: 0.5}, 0.7))
	assert.Equal(t, GenderScores{Female: 0.3, Male: 0.7}, thresholdGender(GenderScores{Female: 0.3, Male: 0.7}, 0.7))
	assert.Equal(t, GenderScores{Female: 0.92, Male: 0.08}, thresholdGender(GenderScores{Female: 0.92, Male: 0.08}, 0.7))
}

func TestGenderScores(t *testing.T) {
	t.Parallel()
	assert.False(t, GenderScores{}.IsSet())
	g := GenderScores{Female: 0.1, Male: 0.9}
	assert.True(t, g.IsSet())
	assert.True(t, g.IsMale())
	assert.Equal(t, float32(0.9), g.Max())
	assert.False(t, GenderScores{Female: 0.9, Male: 0.1}.IsMale())
}

func TestVariantByIndex(t *testing.T) {
	t.Parallel()
	v, err := VariantByIndex(0)
	require.NoError(t, err)
	assert.Equal(t, "model_age_q.onnx", v.AgeFile)
	assert.Equal(t, "model_gender_q.onnx", v.GenderFile)

	v, err = VariantByIndex(3)
	require.NoError(t, err)
	assert.Equal(t, "lite", v.Name)

	_, err = VariantByIndex(-1)
	assert.Error(t, err)
	_, err = VariantByIndex(len(ModelVariants))
	assert.Error(t, err)
}

func TestParseInferenceMode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]InferenceMode{
		"":      ModeCPU,
		"cpu":   ModeCPU,
		" GPU ": ModeGPU,
		"nnapi": ModeNNAPI,
	} {
		got, err := ParseInferenceMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseInferenceMode("tpu")
	assert.Error(t, err)
}

func TestImageInputShape(t *testing.T) {
	t.Parallel()

	shape, size, chw := imageInputShape(ort.NewShape(-1, 128, 128, 3), 200)
	assert.Equal(t, ort.NewShape(1, 128, 128, 3), shape)
	assert.Equal(t, 128, size)
	assert.False(t, chw)

	shape, size, chw = imageInputShape(ort.NewShape(1, 3, 96, 96), 200)
	assert.Equal(t, ort.NewShape(1, 3, 96, 96), shape)
	assert.Equal(t, 96, size)
	assert.True(t, chw)

	shape, size, _ = imageInputShape(ort.NewShape(-1, -1, -1, 3), 200)
	assert.Equal(t, ort.NewShape(1, 200, 200, 3), shape)
	assert.Equal(t, 200, size)

	assert.Equal(t, ort.NewShape(1, 2), concreteShape(ort.NewShape(-1, 2)))
}

func TestSettingsMerge(t *testing.T) {
	t.Parallel()
	base := Settings{InferenceMode: ModeCPU, OnlyFrontFace: true, ModelVariant: 0}

	same, err := base.Merge(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, base, same)

	gpu, off, two := "gpu", false, 2
	got, err := base.Merge(&gpu, &off, &two)
	require.NoError(t, err)
	assert.Equal(t, Settings{InferenceMode: ModeGPU, OnlyFrontFace: false, ModelVariant: 2}, got)

	bad := "tpu"
	_, err = base.Merge(&bad, nil, nil)
	assert.Error(t, err)

	outOfRange := len(ModelVariants)
	_, err = base.Merge(nil, nil, &outOfRange)
	assert.Error(t, err)
}
