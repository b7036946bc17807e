package vision

import (
	"image"
	"math/rand/v2"
	"sync"
	"time"
)

// PlaybackConfig tunes the playback selector.
type PlaybackConfig struct {
	// Delay is how long an identity must have been locked before it can play.
	Delay time.Duration
	// RecentWindow is how recently the identity must have been seen.
	RecentWindow time.Duration
}

// DefaultPlaybackConfig returns a one second delay and recency window.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{Delay: time.Second, RecentWindow: time.Second}
}

// SelectPlayback returns the locked, recently seen identity with the largest box
// whose lock is at least cfg.Delay old. Ties go to the first in faces.
func SelectPlayback(faces []Identity, now time.Time, cfg PlaybackConfig) (Identity, bool) {
	best := -1
	for i, f := range faces {
		if !f.Locked || f.Thumbnail == nil {
			continue
		}
		if now.Sub(f.LastSeen) >= cfg.RecentWindow || now.Sub(f.FirstSeen) < cfg.Delay {
			continue
		}
		if best < 0 || area(f.Box) > area(faces[best].Box) {
			best = i
		}
	}
	if best < 0 {
		return Identity{}, false
	}
	return faces[best], true
}

// PlaybackInfo describes the identity currently on air and what to play for it.
type PlaybackInfo struct {
	FaceID     int
	IsMale     bool
	Age        float32
	VideoURL   string
	Thumbnail  image.Image
	SelectedAt time.Time
}

// Selector remembers the previous selection so only changes are reported.
type Selector struct {
	mu      sync.Mutex
	cfg     PlaybackConfig
	catalog Catalog
	intn    func(int) int
	current *PlaybackInfo
}

// NewSelector creates a selector. A nil intn uses math/rand.
func NewSelector(cfg PlaybackConfig, catalog Catalog, intn func(int) int) *Selector {
	if intn == nil {
		intn = rand.IntN
	}
	return &Selector{cfg: cfg, catalog: catalog, intn: intn}
}

// Update recomputes the selection. changed is false when the selected identity
// is the same as last time, including none → none.
func (s *Selector) Update(faces []Identity, now time.Time) (info *PlaybackInfo, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := SelectPlayback(faces, now, s.cfg)
	switch {
	case !ok && s.current == nil:
		return nil, false
	case ok && s.current != nil && s.current.FaceID == f.ID:
		return s.current, false
	case !ok:
		s.current = nil
		return nil, true
	}

	isMale := f.Gender.IsMale()
	s.current = &PlaybackInfo{
		FaceID:     f.ID,
		IsMale:     isMale,
		Age:        f.Age,
		VideoURL:   s.catalog.Pick(isMale, f.Age, s.intn),
		Thumbnail:  f.Thumbnail,
		SelectedAt: now,
	}
	return s.current, true
}

// Current returns the last selection, or nil.
func (s *Selector) Current() *PlaybackInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
