package vision

import (
	"fmt"
	"sync"
	"time"

	"github.com/arthurkushman/go-hungarian"
)

// Assignment selects how detections are associated with live identities.
type Assignment string

const (
	// AssignGreedy processes detections in order; each claims its nearest unclaimed identity.
	AssignGreedy Assignment = "greedy"
	// AssignOptimal solves a min-distance bipartite assignment (Kuhn-Munkres).
	AssignOptimal Assignment = "optimal"
)

// ParseAssignment validates an assignment name; empty means greedy.
func ParseAssignment(s string) (Assignment, error) {
	switch Assignment(s) {
	case "", AssignGreedy:
		return AssignGreedy, nil
	case AssignOptimal:
		return AssignOptimal, nil
	default:
		return "", fmt.Errorf("unknown assignment %q", s)
	}
}

// TrackerConfig tunes the identity tracker.
type TrackerConfig struct {
	// MatchGate scales the squared detection width into the squared-distance gate.
	MatchGate float64
	// Expiry removes identities not matched for longer than this.
	Expiry     time.Duration
	Assignment Assignment
	// ClearOnEmpty drops every identity when a frame has no detections.
	ClearOnEmpty bool
}

// DefaultTrackerConfig returns the gate 1.0, 2s expiry, greedy configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MatchGate:  1.0,
		Expiry:     2 * time.Second,
		Assignment: AssignGreedy,
	}
}

// Tracker associates per-frame detections into persistent identities
// by nearest box center with a detection-width-relative gate.
type Tracker struct {
	mu     sync.Mutex
	faces  []*Identity // creation order
	nextID int
	cfg    TrackerConfig
}

// NewTracker creates an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.MatchGate <= 0 {
		cfg.MatchGate = 1.0
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 2 * time.Second
	}
	if cfg.Assignment == "" {
		cfg.Assignment = AssignGreedy
	}
	return &Tracker{cfg: cfg, nextID: 1}
}

// Update sweeps expired identities, matches detections to the remaining ones
// and creates identities for unmatched detections. It returns, for each
// detection, the id it was assigned to.
func (t *Tracker) Update(detections []Detection, now time.Time) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(detections) == 0 && t.cfg.ClearOnEmpty {
		t.faces = t.faces[:0]
		return nil
	}

	// Expired identities never take part in matching.
	t.expire(now)

	var matches []int
	if t.cfg.Assignment == AssignOptimal {
		matches = t.assignOptimal(detections)
	} else {
		matches = t.assignGreedy(detections)
	}

	ids := make([]int, len(detections))
	for di, det := range detections {
		if fi := matches[di]; fi >= 0 {
			f := t.faces[fi]
			f.Box = det.Box
			f.LastSeen = now
			ids[di] = f.ID
			continue
		}
		f := &Identity{
			ID:        t.nextID,
			Box:       det.Box,
			LastSeen:  now,
			FirstSeen: now,
		}
		t.nextID++
		t.faces = append(t.faces, f)
		ids[di] = f.ID
	}
	return ids
}

// gate returns the squared-distance threshold for a detection.
func (t *Tracker) gate(det Detection) float64 {
	w := float64(det.Box.Dx())
	return w * w * t.cfg.MatchGate
}

// assignGreedy returns, per detection, the index into t.faces it matched or -1.
// Identities that existed before this frame are the only candidates; the first
// detection to reach an identity claims it.
func (t *Tracker) assignGreedy(detections []Detection) []int {
	matches := make([]int, len(detections))
	claimed := make([]bool, len(t.faces))

	for di, det := range detections {
		matches[di] = -1
		best := -1
		bestDist := 0.0
		for fi, f := range t.faces {
			if claimed[fi] {
				continue
			}
			d := centerDistSq(f.Box, det.Box)
			if best < 0 || d < bestDist {
				best = fi
				bestDist = d
			}
		}
		if best >= 0 && bestDist < t.gate(det) {
			matches[di] = best
			claimed[best] = true
		}
	}
	return matches
}

// assignOptimal maximises the summed gate margin over all detection/identity pairs.
func (t *Tracker) assignOptimal(detections []Detection) []int {
	matches := make([]int, len(detections))
	for i := range matches {
		matches[i] = -1
	}
	if len(detections) == 0 || len(t.faces) == 0 {
		return matches
	}

	n := len(detections)
	if len(t.faces) > n {
		n = len(t.faces)
	}
	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = make([]float64, n)
	}
	for di, det := range detections {
		g := t.gate(det)
		if g <= 0 {
			continue
		}
		for fi, f := range t.faces {
			if d := centerDistSq(f.Box, det.Box); d < g {
				// (0, 1]: 1 at identical centers, approaching 0 at the gate.
				scores[di][fi] = 1 - d/g + 1e-9
			}
		}
	}

	work := make([][]float64, n)
	for i := range scores {
		work[i] = append([]float64(nil), scores[i]...)
	}
	for di, row := range hungarian.SolveMax(work) {
		if di >= len(detections) {
			continue
		}
		for fi := range row {
			if fi < len(t.faces) && scores[di][fi] > 0 {
				matches[di] = fi
			}
		}
	}
	return matches
}

func (t *Tracker) expire(now time.Time) {
	kept := t.faces[:0]
	for _, f := range t.faces {
		if now.Sub(f.LastSeen) > t.cfg.Expiry {
			continue
		}
		kept = append(kept, f)
	}
	for i := len(kept); i < len(t.faces); i++ {
		t.faces[i] = nil
	}
	t.faces = kept
}

// Snapshot returns a copy of the live identities in creation order.
func (t *Tracker) Snapshot() []Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Identity, len(t.faces))
	for i, f := range t.faces {
		out[i] = *f
	}
	return out
}

// Get returns a copy of the identity with the given id.
func (t *Tracker) Get(id int) (Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f := t.find(id); f != nil {
		return *f, true
	}
	return Identity{}, false
}

// Clear drops every identity. Ids keep increasing afterwards.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.faces {
		t.faces[i] = nil
	}
	t.faces = t.faces[:0]
}

// Len returns the number of live identities.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.faces)
}

// mutate runs fn on the identity under the tracker lock.
// It reports false if the identity no longer exists.
func (t *Tracker) mutate(id int, fn func(f *Identity)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.find(id)
	if f == nil {
		return false
	}
	fn(f)
	return true
}

func (t *Tracker) find(id int) *Identity {
	for _, f := range t.faces {
		if f.ID == id {
			return f
		}
	}
	return nil
}
