// Package fusion combines per-cycle signal votes into a single prioritized,
// debounced alert state.
package fusion

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/signals"
)

// Level is the alert level held by the state machine.
type Level int

const (
	Clear Level = iota
	LoudNoise
	Fighting
	Weapon
)

// Levels lists every level from least to most severe.
var Levels = []Level{Clear, LoudNoise, Fighting, Weapon}

// Severity orders levels; higher wins.
func (l Level) Severity() int {
	return int(l)
}

func (l Level) String() string {
	switch l {
	case Clear:
		return "Clear"
	case LoudNoise:
		return "LoudNoise"
	case Fighting:
		return "Fighting"
	case Weapon:
		return "Weapon"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalJSON encodes the level as its name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name.
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, v := range Levels {
		if v.String() == s {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown alert level %q", s)
}

// Evidence identifies what triggered a level.
type Evidence struct {
	// TrackIDs are the subjects voting fighting, ascending.
	TrackIDs []int `json:"track_ids,omitempty"`

	// Box and Class describe the strongest weapon detection.
	Box   *detection.Box `json:"box,omitempty"`
	Class string         `json:"class,omitempty"`

	// Strength is the strongest active vote for the level.
	Strength float64 `json:"strength"`
}

// AlertState is the value published on every transition. It is replaced,
// never modified, when the machine moves.
type AlertState struct {
	ID       string    `json:"id"`
	Level    Level     `json:"level"`
	Previous Level     `json:"previous"`
	Since    time.Time `json:"since"`
	At       time.Time `json:"at"`
	Message  string    `json:"message"`
	Evidence Evidence  `json:"evidence"`
}

// Message returns the user-facing text for a level.
func Message(l Level, ev Evidence) string {
	switch l {
	case Weapon:
		if ev.Class != "" {
			return fmt.Sprintf("Warning: Weapon Detected (%s)!", ev.Class)
		}
		return "Warning: Weapon Detected!"
	case Fighting:
		return "Warning: Fighting Detected!"
	case LoudNoise:
		return "Warning: Loud Noise Detected!"
	default:
		return "All clear."
	}
}

// Target picks the level for a vote set: weapon, then fighting, then loud
// noise, then clear. It also gathers the evidence for that level.
func Target(votes []signals.Vote) (Level, Evidence) {
	var (
		weapon, fighting, loud bool
		wEv, fEv, lEv          Evidence
	)
	for _, v := range votes {
		if !v.Active {
			continue
		}
		switch v.Kind {
		case signals.Weapon:
			if !weapon || v.Strength > wEv.Strength {
				wEv = Evidence{Box: v.Box, Class: v.Class, Strength: v.Strength}
			}
			weapon = true
		case signals.Fighting:
			fighting = true
			if v.TrackID != 0 && !slices.Contains(fEv.TrackIDs, v.TrackID) {
				fEv.TrackIDs = append(fEv.TrackIDs, v.TrackID)
			}
			fEv.Strength = max(fEv.Strength, v.Strength)
		case signals.LoudNoise:
			loud = true
			lEv.Strength = max(lEv.Strength, v.Strength)
		}
	}

	switch {
	case weapon:
		return Weapon, wEv
	case fighting:
		slices.Sort(fEv.TrackIDs)
		return Fighting, fEv
	case loud:
		return LoudNoise, lEv
	default:
		return Clear, Evidence{}
	}
}

// sameEvidence reports whether two evidence values point at the same
// subject or object for level l.
func sameEvidence(l Level, a, b Evidence, iouThreshold float64) bool {
	switch l {
	case Weapon:
		if a.Class != b.Class {
			return false
		}
		if a.Box == nil || b.Box == nil {
			return a.Box == nil && b.Box == nil
		}
		return a.Box.IoU(*b.Box) >= iouThreshold
	case Fighting:
		return slices.Equal(a.TrackIDs, b.TrackIDs)
	default:
		return true
	}
}
