package detection

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/teslashibe/go-sentry/pkg/faults"
)

func TestLabel_RoundTrip(t *testing.T) {
	for l := Label(0); l < NumLabels; l++ {
		got, ok := ParseLabel(l.String())
		if !ok || got != l {
			t.Errorf("ParseLabel(%q) = %v, %v", l.String(), got, ok)
		}
	}
	if _, ok := ParseLabel("tail"); ok {
		t.Error("unknown label should not parse")
	}
	if LeftWrist.String() != "leftWrist" || RightKnee.String() != "rightKnee" {
		t.Errorf("unexpected names %s %s", LeftWrist, RightKnee)
	}
}

func TestKeypoint_JSON(t *testing.T) {
	kp := Keypoint{Label: LeftWrist, X: 10, Y: 20, Confidence: 0.9}
	b, err := json.Marshal(kp)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"label":"leftWrist","x":10,"y":20,"confidence":0.9}` {
		t.Errorf("got %s", b)
	}

	var bad Keypoint
	err = json.Unmarshal([]byte(`{"label":"tail"}`), &bad)
	if !errors.Is(err, faults.ErrMalformedDetection) {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestPersonPose_Centroid(t *testing.T) {
	tests := []struct {
		name    string
		pose    PersonPose
		wantX   float64
		wantY   float64
		wantOK  bool
		minConf float64
	}{
		{
			name:    "mean of confident points",
			pose:    PersonPose{Keypoints: []Keypoint{{X: 0, Y: 0, Confidence: 0.9}, {X: 10, Y: 20, Confidence: 0.6}}},
			wantX:   5,
			wantY:   10,
			wantOK:  true,
			minConf: 0.5,
		},
		{
			name:    "low confidence ignored",
			pose:    PersonPose{Keypoints: []Keypoint{{X: 0, Y: 0, Confidence: 0.9}, {X: 100, Y: 100, Confidence: 0.1}}},
			wantX:   0,
			wantY:   0,
			wantOK:  true,
			minConf: 0.5,
		},
		{
			name:    "nothing confident",
			pose:    PersonPose{Keypoints: []Keypoint{{X: 1, Y: 1, Confidence: 0.2}}},
			minConf: 0.5,
		},
		{
			name:    "empty",
			pose:    PersonPose{},
			minConf: 0.5,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x, y, ok := tc.pose.Centroid(tc.minConf)
			if ok != tc.wantOK || x != tc.wantX || y != tc.wantY {
				t.Errorf("Centroid = (%v, %v, %v), want (%v, %v, %v)", x, y, ok, tc.wantX, tc.wantY, tc.wantOK)
			}
		})
	}
}

func TestPersonPose_Confident(t *testing.T) {
	p := PersonPose{Keypoints: []Keypoint{
		{Label: LeftWrist, X: 1, Y: 2, Confidence: 0.8},
		{Label: RightWrist, X: 3, Y: 4, Confidence: 0.5},
	}}
	if _, ok := p.Confident(LeftWrist, 0.5); !ok {
		t.Error("left wrist should be confident")
	}
	if _, ok := p.Confident(RightWrist, 0.5); ok {
		t.Error("confidence must be strictly above threshold")
	}
	if _, ok := p.Confident(Nose, 0.5); ok {
		t.Error("missing keypoint should not be found")
	}
}

func TestPersonPose_Validate(t *testing.T) {
	tests := []struct {
		name    string
		pose    PersonPose
		wantErr bool
	}{
		{"ok", Pose(map[Label][2]float64{Nose: {1, 2}}), false},
		{"empty", PersonPose{}, true},
		{"nan", PersonPose{Keypoints: []Keypoint{{X: math.NaN()}}}, true},
		{"bad confidence", PersonPose{Keypoints: []Keypoint{{Confidence: 1.5}}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pose.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, faults.ErrMalformedDetection) {
				t.Errorf("expected ErrMalformedDetection, got %v", err)
			}
		})
	}
}

func TestBox_IoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{"identical", Box{0, 0, 10, 10}, Box{0, 0, 10, 10}, 1},
		{"disjoint", Box{0, 0, 10, 10}, Box{20, 20, 5, 5}, 0},
		{"half overlap", Box{0, 0, 10, 10}, Box{5, 0, 10, 10}, 50.0 / 150.0},
		{"degenerate", Box{}, Box{}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.IoU(tc.b); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("IoU = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestObjectDetection_Validate(t *testing.T) {
	if err := (ObjectDetection{Class: "gun", Box: Box{1, 1, 2, 2}, Confidence: 0.9}).Validate(); err != nil {
		t.Errorf("valid detection rejected: %v", err)
	}
	if err := (ObjectDetection{Box: Box{1, 1, 2, 2}}).Validate(); !errors.Is(err, faults.ErrMalformedDetection) {
		t.Errorf("missing class: %v", err)
	}
	if err := (ObjectDetection{Class: "knife", Box: Box{W: -1}}).Validate(); err == nil {
		t.Error("negative width should fail")
	}
}

func TestFilterClass(t *testing.T) {
	dets := []ObjectDetection{{Class: "person"}, {Class: "knife"}, {Class: "cup"}, {Class: "gun"}}
	got := FilterClass(dets, "knife", "gun")
	want := []ObjectDetection{{Class: "knife"}, {Class: "gun"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FilterClass mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadLabels(t *testing.T) {
	got, err := LoadLabels("")
	if err != nil || len(got) != 80 {
		t.Fatalf("default labels: %d, %v", len(got), err)
	}

	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte("# weapons\nknife\n\ngun\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadLabels(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"knife", "gun"}, got); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadLabels(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestMockPoseEstimator_Script(t *testing.T) {
	a := []PersonPose{Pose(map[Label][2]float64{Nose: {1, 1}})}
	b := []PersonPose{}
	m := NewMockPoseEstimator(a, b)

	ctx := context.Background()
	for i, want := range [][]PersonPose{a, b, b} {
		got, err := m.Estimate(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Errorf("call %d: got %d poses, want %d", i, len(got), len(want))
		}
	}
	if m.Calls() != 3 {
		t.Errorf("Calls() = %d", m.Calls())
	}
}

func TestMockObjectDetector_DelayHonoursContext(t *testing.T) {
	m := NewMockObjectDetector([]ObjectDetection{{Class: "gun"}})
	m.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Detect(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Detect ignored context cancellation")
	}
}
