// Package signals turns raw perception output into normalized votes: one
// per subject for fighting, one per cycle for weapons and loud noise.
package signals

import (
	"encoding/json"
	"fmt"

	"github.com/teslashibe/go-sentry/pkg/detection"
)

// Kind identifies which classifier produced a vote.
type Kind int

const (
	Fighting Kind = iota
	Weapon
	LoudNoise
)

// Kinds lists every vote kind.
var Kinds = []Kind{Fighting, Weapon, LoudNoise}

func (k Kind) String() string {
	switch k {
	case Fighting:
		return "fighting"
	case Weapon:
		return "weapon"
	case LoudNoise:
		return "loud-noise"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalJSON encodes the kind as its name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind name.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, v := range Kinds {
		if v.String() == s {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown signal kind %q", s)
}

// Vote is one classifier's output for one cycle.
type Vote struct {
	Kind     Kind    `json:"kind"`
	Active   bool    `json:"active"`
	Strength float64 `json:"strength"`

	// TrackID is the subject the vote is about; 0 means none.
	TrackID int `json:"track_id,omitempty"`

	// Box and Class carry the winning weapon detection through to sinks.
	Box   *detection.Box `json:"box,omitempty"`
	Class string         `json:"class,omitempty"`
}

// Inactive returns an inactive vote of kind k.
func Inactive(k Kind) Vote {
	return Vote{Kind: k}
}

// excess is the normalized margin of v over threshold, capped at 1.
func excess(v, threshold float64) float64 {
	if threshold <= 0 {
		if v > 0 {
			return 1
		}
		return 0
	}
	s := (v - threshold) / threshold
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
