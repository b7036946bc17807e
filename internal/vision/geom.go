package vision

import (
	"image"
	"math"
)

// Pose holds head Euler angles in degrees.
// Yaw turns left/right, Pitch nods up/down, Roll tilts in the image plane.
type Pose struct {
	Yaw   float32
	Pitch float32
	Roll  float32
}

// IsFrontFacing reports whether both yaw and roll are strictly within ±maxAngle.
func (p Pose) IsFrontFacing(maxAngle float32) bool {
	return absF(p.Yaw) < maxAngle && absF(p.Roll) < maxAngle
}

// Detection is one face reported by the detector for a single frame.
type Detection struct {
	Box        image.Rectangle // detector-image pixel coordinates
	Pose       Pose
	Confidence float32
	Landmarks  [5][2]float32 // eyes, nose, mouth corners
}

func centerOf(r image.Rectangle) (int, int) {
	return (r.Min.X + r.Max.X) / 2, (r.Min.Y + r.Max.Y) / 2
}

// centerDistSq is the squared euclidean distance between box centers.
func centerDistSq(a, b image.Rectangle) float64 {
	ax, ay := centerOf(a)
	bx, by := centerOf(b)
	dx := float64(ax - bx)
	dy := float64(ay - by)
	return dx*dx + dy*dy
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// largestDetection returns the index of the widest detection, first found on ties,
// or -1 for an empty slice.
func largestDetection(dets []Detection) int {
	best := -1
	for i, d := range dets {
		if best < 0 || d.Box.Dx() > dets[best].Box.Dx() {
			best = i
		}
	}
	return best
}

// rectFromXYXY converts float corner coordinates to an integer rectangle.
func rectFromXYXY(b [4]float32) image.Rectangle {
	return image.Rect(
		int(math.Round(float64(b[0]))),
		int(math.Round(float64(b[1]))),
		int(math.Round(float64(b[2]))),
		int(math.Round(float64(b[3]))),
	)
}

func absF(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
