package vision

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	t.Parallel()
	a := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.InDelta(t, 25.0/175.0, iou(a, [4]float32{5, 5, 15, 15}), 1e-6)
	assert.Zero(t, iou(a, [4]float32{20, 20, 30, 30}))
}

func TestSuppressKeepsHighestScore(t *testing.T) {
	t.Parallel()
	faces := []rawFace{
		{box: [4]float32{0, 0, 100, 100}, score: 0.6},
		{box: [4]float32{2, 2, 102, 102}, score: 0.9},
		{box: [4]float32{300, 300, 400, 400}, score: 0.7},
	}
	kept := suppress(faces, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].score)
	assert.Equal(t, float32(0.7), kept[1].score)
}

func TestRectFromXYXY(t *testing.T) {
	t.Parallel()
	assert.Equal(t, image.Rect(10, 20, 111, 200), rectFromXYXY([4]float32{10.2, 19.6, 110.5, 200.4}))
}

func TestLargestDetection(t *testing.T) {
	t.Parallel()
	assert.Equal(t, -1, largestDetection(nil))
	assert.Equal(t, 1, largestDetection([]Detection{det(0, 0, 50, 50), det(0, 0, 80, 10), det(0, 0, 80, 90)}))
}

func TestFillTensorLayouts(t *testing.T) {
	t.Parallel()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 0, 51, 255
	}

	hwc := make([]float32, 12)
	fillTensor(hwc, img, 2, 2, false, zeroMean, unitStd)
	assert.InDeltaSlice(t, []float32{1, 0, 0.2}, hwc[:3], 1e-6)

	chw := make([]float32, 12)
	fillTensor(chw, img, 2, 2, true, zeroMean, unitStd)
	assert.InDeltaSlice(t, []float32{1, 1, 1, 1}, chw[:4], 1e-6)
	assert.InDeltaSlice(t, []float32{0.2, 0.2, 0.2, 0.2}, chw[8:], 1e-6)
}
