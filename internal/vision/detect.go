package vision

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// FaceDetector reports the faces visible in one frame.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// RetinaFace runs the det_10g RetinaFace model through ONNX Runtime.
type RetinaFace struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []*ort.Tensor[float32]
	threshold float32
	nmsIoU    float32
	inputSize int
}

const (
	retinaInputSize   = 640
	anchorsPerCell    = 2
	defaultNMSIoU     = 0.4
	defaultDetectConf = 0.5
)

var (
	retinaStrides = []int{8, 16, 32}
	retinaMean    = [3]float32{127.5, 127.5, 127.5}
	retinaStd     = [3]float32{128, 128, 128}
)

// retinaOutput names the det_10g output heads. Each stride yields
// (input/stride)² cells with two anchors; there is no batch dimension.
type retinaOutput struct {
	name  string
	width int64
}

func retinaOutputs() ([]string, []ort.Shape) {
	heads := [][]retinaOutput{
		{{"448", 1}, {"471", 1}, {"494", 1}},    // scores
		{{"451", 4}, {"474", 4}, {"497", 4}},    // box distances
		{{"454", 10}, {"477", 10}, {"500", 10}}, // landmarks
	}
	var names []string
	var shapes []ort.Shape
	for _, head := range heads {
		for si, out := range head {
			cells := retinaInputSize / retinaStrides[si]
			names = append(names, out.name)
			shapes = append(shapes, ort.NewShape(int64(cells*cells*anchorsPerCell), out.width))
		}
	}
	return names, shapes
}

// NewRetinaFace loads the detector model. opts may be nil for ORT defaults.
func NewRetinaFace(modelPath string, threshold float32, opts *ort.SessionOptions) (*RetinaFace, error) {
	if threshold <= 0 {
		threshold = defaultDetectConf
	}
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, retinaInputSize, retinaInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	names, shapes := retinaOutputs()
	outputs := make([]*ort.Tensor[float32], 0, len(shapes))
	values := make([]ort.Value, 0, len(shapes))
	destroy := func() {
		input.Destroy()
		for _, t := range outputs {
			t.Destroy()
		}
	}
	for i, shape := range shapes {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", names[i], err)
		}
		outputs = append(outputs, t)
		values = append(values, t)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{input},
		values,
		opts,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &RetinaFace{
		session:   session,
		input:     input,
		outputs:   outputs,
		threshold: threshold,
		nmsIoU:    defaultNMSIoU,
		inputSize: retinaInputSize,
	}, nil
}

// LoadRetinaFace loads the detector on the CPU backend with threads intra-op threads.
func LoadRetinaFace(modelPath string, threshold float32, threads int) (*RetinaFace, error) {
	opts, _, err := trySessionOptions(cpuBackend{}, threads)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	return NewRetinaFace(modelPath, threshold, opts)
}

// Detect finds faces in img and returns them in image coordinates with
// head pose estimated from the five landmarks.
func (r *RetinaFace) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	fillTensor(r.input.GetData(), img, r.inputSize, r.inputSize, true, retinaMean, retinaStd)
	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	raw := r.decode(img.Bounds())
	raw = suppress(raw, r.nmsIoU)

	dets := make([]Detection, 0, len(raw))
	for _, f := range raw {
		dets = append(dets, Detection{
			Box:        rectFromXYXY(f.box),
			Pose:       estimatePose(f.landmarks),
			Confidence: f.score,
			Landmarks:  f.landmarks,
		})
	}
	return dets, nil
}

type rawFace struct {
	box       [4]float32
	score     float32
	landmarks [5][2]float32
}

// decode converts anchor-relative outputs above the score threshold to image coordinates.
func (r *RetinaFace) decode(bounds image.Rectangle) []rawFace {
	var faces []rawFace
	sx := float32(bounds.Dx()) / float32(r.inputSize)
	sy := float32(bounds.Dy()) / float32(r.inputSize)
	ox, oy := float32(bounds.Min.X), float32(bounds.Min.Y)
	n := len(retinaStrides)

	for si, stride := range retinaStrides {
		scores := r.outputs[si].GetData()
		boxes := r.outputs[n+si].GetData()
		marks := r.outputs[2*n+si].GetData()
		cells := r.inputSize / stride
		st := float32(stride)

		for i := range scores {
			if scores[i] < r.threshold {
				continue
			}
			cell := i / anchorsPerCell
			ax := float32(cell%cells) * st
			ay := float32(cell/cells) * st

			b := boxes[i*4 : i*4+4]
			f := rawFace{
				score: scores[i],
				box: [4]float32{
					clampF((ax-b[0]*st)*sx, 0, float32(bounds.Dx())) + ox,
					clampF((ay-b[1]*st)*sy, 0, float32(bounds.Dy())) + oy,
					clampF((ax+b[2]*st)*sx, 0, float32(bounds.Dx())) + ox,
					clampF((ay+b[3]*st)*sy, 0, float32(bounds.Dy())) + oy,
				},
			}
			for k := 0; k < 5; k++ {
				f.landmarks[k][0] = (ax+marks[i*10+k*2]*st)*sx + ox
				f.landmarks[k][1] = (ay+marks[i*10+k*2+1]*st)*sy + oy
			}
			faces = append(faces, f)
		}
	}
	return faces
}

// Close releases the session and its tensors.
func (r *RetinaFace) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
	if r.input != nil {
		r.input.Destroy()
		r.input = nil
	}
	for _, t := range r.outputs {
		t.Destroy()
	}
	r.outputs = nil
}

// suppress applies greedy non-maximum suppression, highest score first.
func suppress(faces []rawFace, iouThreshold float32) []rawFace {
	sort.Slice(faces, func(i, j int) bool { return faces[i].score > faces[j].score })
	kept := faces[:0:0]
	for _, f := range faces {
		overlaps := false
		for _, k := range kept {
			if iou(k.box, f.box) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, f)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	iw := min(a[2], b[2]) - max(a[0], b[0])
	ih := min(a[3], b[3]) - max(a[1], b[1])
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
