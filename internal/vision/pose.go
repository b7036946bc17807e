package vision

import "math"

// estimatePose approximates head Euler angles from the five detector landmarks
// (left eye, right eye, nose, left mouth corner, right mouth corner).
//
// Roll is the eye-line angle. Yaw and pitch come from the nose position in the
// eye-aligned frame: horizontally relative to the eye midpoint, vertically
// relative to the eye-to-mouth span.
func estimatePose(lm [5][2]float32) Pose {
	lx, ly := float64(lm[0][0]), float64(lm[0][1])
	rx, ry := float64(lm[1][0]), float64(lm[1][1])
	nx, ny := float64(lm[2][0]), float64(lm[2][1])
	mx := (float64(lm[3][0]) + float64(lm[4][0])) / 2
	my := (float64(lm[3][1]) + float64(lm[4][1])) / 2

	ex, ey := rx-lx, ry-ly
	eyeDist := math.Hypot(ex, ey)
	if eyeDist == 0 {
		return Pose{}
	}
	roll := math.Atan2(ey, ex)
	cos, sin := math.Cos(roll), math.Sin(roll)

	// Rotate points about the eye midpoint so the eye line is horizontal.
	cx, cy := (lx+rx)/2, (ly+ry)/2
	align := func(x, y float64) (float64, float64) {
		dx, dy := x-cx, y-cy
		return dx*cos + dy*sin, -dx*sin + dy*cos
	}
	noseX, noseY := align(nx, ny)
	_, mouthY := align(mx, my)

	yaw := math.Asin(clamp64(2*noseX/eyeDist, -1, 1))

	var pitch float64
	if mouthY > 0 {
		// A frontal face has the nose roughly halfway between eyes and mouth.
		pitch = math.Asin(clamp64(2*(noseY/mouthY-0.5), -1, 1))
	}

	return Pose{
		Yaw:   float32(yaw * 180 / math.Pi),
		Pitch: float32(pitch * 180 / math.Pi),
		Roll:  float32(roll * 180 / math.Pi),
	}
}

func clamp64(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
