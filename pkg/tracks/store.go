// Package tracks keeps per-subject pose history across fusion cycles.
//
// Each Track owns its own current and previous pose, so motion is always
// measured against the same subject's prior frame.
package tracks

import (
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-sentry/pkg/detection"
)

// Track is one subject followed across frames.
type Track struct {
	ID         int                   `json:"id"`
	Current    detection.PersonPose  `json:"current"`
	Previous   *detection.PersonPose `json:"previous,omitempty"`
	LastUpdate time.Time             `json:"last_update"`
	CreatedAt  time.Time             `json:"created_at"`

	// Misses counts consecutive updates with no matching pose.
	Misses int `json:"misses"`

	// Hits counts matched updates, including the one that created the track.
	Hits int `json:"hits"`

	cx, cy float64
}

// Centroid returns the centroid used for association.
func (t *Track) Centroid() (x, y float64) {
	return t.cx, t.cy
}

// Matched reports whether the track received a pose on the latest update.
func (t *Track) Matched() bool {
	return t.Misses == 0
}

// Config controls association and retirement.
type Config struct {
	// MaxAssociationDistance is the largest centroid distance, in pixels,
	// at which a pose may continue an existing track.
	MaxAssociationDistance float64 `json:"max_association_distance"`

	// StalenessWindow is how many consecutive missed updates a track survives.
	StalenessWindow int `json:"track_staleness_window"`

	// KeypointMinConfidence selects the keypoints that form a centroid.
	KeypointMinConfidence float64 `json:"keypoint_min_confidence"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAssociationDistance: 120,
		StalenessWindow:        2,
		KeypointMinConfidence:  0.5,
	}
}

// Store is an arena of Tracks indexed by id.
type Store struct {
	mu     sync.RWMutex
	config Config
	tracks map[int]*Track
	nextID int
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	return &Store{
		config: cfg,
		tracks: make(map[int]*Track),
		nextID: 1,
	}
}

// SetConfig replaces the association settings. Existing tracks are kept.
func (s *Store) SetConfig(cfg Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
}

type candidate struct {
	pose    int
	trackID int
	dist2   float64
}

// Update associates poses with tracks and returns the live tracks sorted by id.
//
// Poses are matched greedily, nearest pair first, ties going to the lower
// track id. Each pose and each track is used at most once. Unmatched poses
// start new tracks; unmatched tracks keep their last pose and are removed
// once their miss count exceeds the staleness window. Poses without a
// confident centroid are ignored.
func (s *Store) Update(poses []detection.PersonPose, now time.Time) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	type located struct {
		x, y float64
		ok   bool
	}
	locs := make([]located, len(poses))
	for i := range poses {
		if len(poses[i].Keypoints) == 0 {
			continue
		}
		x, y, ok := poses[i].Centroid(s.config.KeypointMinConfidence)
		locs[i] = located{x, y, ok}
	}

	maxDist2 := s.config.MaxAssociationDistance * s.config.MaxAssociationDistance
	var cands []candidate
	for i, l := range locs {
		if !l.ok {
			continue
		}
		for id, t := range s.tracks {
			dx, dy := l.x-t.cx, l.y-t.cy
			if d2 := dx*dx + dy*dy; d2 <= maxDist2 {
				cands = append(cands, candidate{pose: i, trackID: id, dist2: d2})
			}
		}
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].dist2 != cands[b].dist2 {
			return cands[a].dist2 < cands[b].dist2
		}
		if cands[a].trackID != cands[b].trackID {
			return cands[a].trackID < cands[b].trackID
		}
		return cands[a].pose < cands[b].pose
	})

	poseUsed := make(map[int]bool, len(poses))
	trackUsed := make(map[int]bool, len(s.tracks))
	for _, c := range cands {
		if poseUsed[c.pose] || trackUsed[c.trackID] {
			continue
		}
		poseUsed[c.pose] = true
		trackUsed[c.trackID] = true

		t := s.tracks[c.trackID]
		prev := t.Current
		t.Previous = &prev
		t.Current = poses[c.pose]
		t.cx, t.cy = locs[c.pose].x, locs[c.pose].y
		t.LastUpdate = now
		t.Misses = 0
		t.Hits++
	}

	for id, t := range s.tracks {
		if trackUsed[id] {
			continue
		}
		t.Misses++
		if t.Misses > s.config.StalenessWindow {
			delete(s.tracks, id)
		}
	}

	for i, l := range locs {
		if !l.ok || poseUsed[i] {
			continue
		}
		id := s.nextID
		s.nextID++
		s.tracks[id] = &Track{
			ID:         id,
			Current:    poses[i],
			LastUpdate: now,
			CreatedAt:  now,
			Hits:       1,
			cx:         l.x,
			cy:         l.y,
		}
	}

	return s.snapshotLocked()
}

// Tracks returns a copy of the live tracks sorted by id.
func (s *Store) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Get returns a copy of one track.
func (s *Store) Get(id int) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *t, true
}

// Len returns the number of live tracks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// Reset drops every track. Ids keep increasing.
func (s *Store) Reset() {
	s.mu.Lock()
	s.tracks = make(map[int]*Track)
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() []Track {
	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
