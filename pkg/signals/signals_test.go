package signals

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/tracks"
)

func wrists(lx, ly, rx, ry, conf float64) detection.PersonPose {
	return detection.PersonPose{
		Confidence: 0.9,
		Keypoints: []detection.Keypoint{
			{Label: detection.LeftWrist, X: lx, Y: ly, Confidence: conf},
			{Label: detection.RightWrist, X: rx, Y: ry, Confidence: conf},
		},
	}
}

func track(id int, prev *detection.PersonPose, cur detection.PersonPose) tracks.Track {
	return tracks.Track{ID: id, Current: cur, Previous: prev}
}

func TestMotionClassifier(t *testing.T) {
	c := NewMotionClassifier(DefaultMotionConfig())
	prev := wrists(100, 100, 140, 100, 0.9)

	tests := []struct {
		name       string
		tr         tracks.Track
		wantActive bool
	}{
		{
			name:       "fast close strike",
			tr:         track(1, &prev, wrists(100, 80, 140, 100, 0.9)),
			wantActive: true,
		},
		{
			name:       "fast but far apart",
			tr:         track(1, &prev, wrists(0, 80, 300, 100, 0.9)),
			wantActive: false,
		},
		{
			name:       "close but slow",
			tr:         track(1, &prev, wrists(100, 90, 140, 95, 0.9)),
			wantActive: false,
		},
		{
			name:       "velocity exactly at threshold",
			tr:         track(1, &prev, wrists(100, 85, 140, 100, 0.9)),
			wantActive: false,
		},
		{
			name:       "no previous pose",
			tr:         track(1, nil, wrists(100, 80, 140, 100, 0.9)),
			wantActive: false,
		},
		{
			name:       "low confidence wrists",
			tr:         track(1, &prev, wrists(100, 80, 140, 100, 0.4)),
			wantActive: false,
		},
		{
			name:       "missing wrist",
			tr:         track(1, &prev, detection.PersonPose{Keypoints: []detection.Keypoint{{Label: detection.LeftWrist, X: 1, Y: 1, Confidence: 1}}}),
			wantActive: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := c.Classify(tc.tr)
			if v.Kind != Fighting {
				t.Errorf("Kind = %v", v.Kind)
			}
			if v.Active != tc.wantActive {
				t.Errorf("Active = %v, want %v", v.Active, tc.wantActive)
			}
			if v.Active && (v.Strength <= 0 || v.Strength > 1) {
				t.Errorf("Strength = %v, want (0, 1]", v.Strength)
			}
			if !v.Active && v.Strength != 0 {
				t.Errorf("inactive vote has strength %v", v.Strength)
			}
			if v.TrackID != tc.tr.ID {
				t.Errorf("TrackID = %d, want %d", v.TrackID, tc.tr.ID)
			}
		})
	}
}

func TestMotionClassifier_StrengthScalesAndCaps(t *testing.T) {
	c := NewMotionClassifier(DefaultMotionConfig())
	prev := wrists(100, 100, 140, 100, 0.9)

	v := c.Classify(track(1, &prev, wrists(100, 80, 140, 100, 0.9)))
	if want := 5.0 / 15.0; math.Abs(v.Strength-want) > 1e-9 {
		t.Errorf("Strength = %v, want %v", v.Strength, want)
	}
	v = c.Classify(track(1, &prev, wrists(100, 0, 140, 100, 0.9)))
	if v.Strength != 1 {
		t.Errorf("Strength = %v, want capped at 1", v.Strength)
	}
}

func TestMotionClassifier_ClassifyAllSkipsUnmatched(t *testing.T) {
	c := NewMotionClassifier(DefaultMotionConfig())
	prev := wrists(100, 100, 140, 100, 0.9)
	cur := wrists(100, 80, 140, 100, 0.9)

	a := track(1, &prev, cur)
	b := track(2, &prev, cur)
	b.Misses = 1

	votes := c.ClassifyAll([]tracks.Track{a, b})
	if len(votes) != 1 || votes[0].TrackID != 1 {
		t.Errorf("votes = %+v, want only track 1", votes)
	}
}

func TestWeaponExtractor(t *testing.T) {
	tests := []struct {
		name         string
		cfg          WeaponConfig
		dets         []detection.ObjectDetection
		wantActive   bool
		wantStrength float64
		wantClass    string
	}{
		{
			name:         "gun present",
			cfg:          DefaultWeaponConfig(),
			dets:         []detection.ObjectDetection{{Class: "gun", Confidence: 0.9, Box: detection.Box{X: 1, Y: 2, W: 3, H: 4}}},
			wantActive:   true,
			wantStrength: 0.9,
			wantClass:    "gun",
		},
		{
			name: "strongest of several",
			cfg:  DefaultWeaponConfig(),
			dets: []detection.ObjectDetection{
				{Class: "knife", Confidence: 0.4},
				{Class: "person", Confidence: 0.99},
				{Class: "gun", Confidence: 0.7},
			},
			wantActive:   true,
			wantStrength: 0.7,
			wantClass:    "gun",
		},
		{
			name: "no weapons",
			cfg:  DefaultWeaponConfig(),
			dets: []detection.ObjectDetection{{Class: "person", Confidence: 0.99}, {Class: "cup", Confidence: 0.8}},
		},
		{
			name: "below extra confidence floor",
			cfg:  WeaponConfig{Classes: []string{"knife"}, MinConfidence: 0.5},
			dets: []detection.ObjectDetection{{Class: "knife", Confidence: 0.3}},
		},
		{
			name:         "custom class set",
			cfg:          WeaponConfig{Classes: []string{"baseball bat"}},
			dets:         []detection.ObjectDetection{{Class: "baseball bat", Confidence: 0.6}},
			wantActive:   true,
			wantStrength: 0.6,
			wantClass:    "baseball bat",
		},
		{
			name:         "labels file capitalised",
			cfg:          DefaultWeaponConfig(),
			dets:         []detection.ObjectDetection{{Class: "Gun", Confidence: 0.8}},
			wantActive:   true,
			wantStrength: 0.8,
			wantClass:    "Gun",
		},
		{
			name:         "config capitalised",
			cfg:          WeaponConfig{Classes: []string{" Knife "}},
			dets:         []detection.ObjectDetection{{Class: "knife", Confidence: 0.6}},
			wantActive:   true,
			wantStrength: 0.6,
			wantClass:    "knife",
		},
		{
			name: "empty",
			cfg:  DefaultWeaponConfig(),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewWeaponExtractor(tc.cfg).Extract(tc.dets)
			if v.Kind != Weapon || v.Active != tc.wantActive || v.Strength != tc.wantStrength || v.Class != tc.wantClass {
				t.Errorf("Extract = %+v", v)
			}
			if v.Active && v.Box == nil {
				t.Error("active weapon vote must carry a box")
			}
		})
	}
}

func TestWeaponExtractor_BoxPassThrough(t *testing.T) {
	box := detection.Box{X: 10, Y: 20, W: 30, H: 40}
	v := NewWeaponExtractor(DefaultWeaponConfig()).Extract([]detection.ObjectDetection{{Class: "knife", Confidence: 0.8, Box: box}})
	if diff := cmp.Diff(&box, v.Box); diff != "" {
		t.Errorf("box mismatch (-want +got):\n%s", diff)
	}
}

func TestLoudnessExtractor(t *testing.T) {
	e := NewLoudnessExtractor(DefaultAudioConfig())

	tests := []struct {
		name         string
		levels       []float64
		wantActive   bool
		wantStrength float64
	}{
		{"average 95", []float64{95, 95, 95, 95, 95}, true, 15.0 / 80.0},
		{"quiet", []float64{10, 20, 30}, false, 0},
		{"at threshold", []float64{80, 80}, false, 0},
		{"single spike averaged out", []float64{10, 10, 10, 10, 200}, false, 0},
		{"only last window counts", []float64{255, 255, 255, 0, 0, 0, 0, 0}, false, 0},
		{"capped", []float64{255, 255, 255, 255, 255}, true, 1},
		{"empty", nil, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := e.Extract(tc.levels)
			if v.Kind != LoudNoise || v.Active != tc.wantActive {
				t.Errorf("Extract = %+v, want active=%v", v, tc.wantActive)
			}
			if math.Abs(v.Strength-tc.wantStrength) > 1e-9 {
				t.Errorf("Strength = %v, want %v", v.Strength, tc.wantStrength)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	if w.Len() != 0 || len(w.Values()) != 0 {
		t.Fatal("new window should be empty")
	}
	w.Push(1)
	w.Push(2)
	if diff := cmp.Diff([]float64{1, 2}, w.Values()); diff != "" {
		t.Errorf("partial (-want +got):\n%s", diff)
	}
	w.Push(3)
	w.Push(4)
	if diff := cmp.Diff([]float64{2, 3, 4}, w.Values()); diff != "" {
		t.Errorf("wrapped (-want +got):\n%s", diff)
	}
	if w.Len() != 3 {
		t.Errorf("Len = %d", w.Len())
	}
	w.Reset()
	if w.Len() != 0 {
		t.Error("Reset did not empty the window")
	}
}

func TestKind_JSON(t *testing.T) {
	b, err := json.Marshal(Vote{Kind: LoudNoise, Active: true, Strength: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"kind":"loud-noise","active":true,"strength":0.5}` {
		t.Errorf("got %s", b)
	}
}
