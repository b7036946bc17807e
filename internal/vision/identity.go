package vision

import (
	"image"
	"time"
)

// GenderScores is a (pFemale, pMale) confidence pair. The zero value means unset.
type GenderScores struct {
	Female float32 `json:"female"`
	Male   float32 `json:"male"`
}

// IsSet reports whether the classifier produced a confident result.
func (g GenderScores) IsSet() bool {
	return g.Female != 0 || g.Male != 0
}

// Max returns the larger of the two probabilities.
func (g GenderScores) Max() float32 {
	if g.Male > g.Female {
		return g.Male
	}
	return g.Female
}

// IsMale reports whether the male probability dominates.
func (g GenderScores) IsMale() bool {
	return g.Male > g.Female
}

// Identity is one physical face believed continuous across frames.
//
// Once Locked, Age and Gender are frozen; tracking updates still move Box and LastSeen.
// FirstSeen is set at creation and reset at the moment of locking.
type Identity struct {
	ID            int
	Box           image.Rectangle
	Age           float32 // 0 means not yet estimated
	Gender        GenderScores
	Locked        bool
	LastSeen      time.Time
	FirstSeen     time.Time
	LastInference time.Time
	Thumbnail     image.Image // face crop captured at lock time
	Inferring     bool
}

// State is the externally observed snapshot of the engine.
type State struct {
	Faces         []Identity
	PreviewWidth  int
	PreviewHeight int
	ModelsReady   bool
	Processing    bool
	CameraFPS     float64
	DetectionFPS  float64
	UpdatedAt     time.Time
}

// Face returns the identity with the given id from the snapshot.
func (s State) Face(id int) (Identity, bool) {
	for _, f := range s.Faces {
		if f.ID == id {
			return f, true
		}
	}
	return Identity{}, false
}
