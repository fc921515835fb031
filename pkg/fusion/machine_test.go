package fusion

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/signals"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func cycle(n int) time.Time {
	return t0.Add(time.Duration(n) * 100 * time.Millisecond)
}

func fight(trackID int) signals.Vote {
	return signals.Vote{Kind: signals.Fighting, Active: true, Strength: 0.5, TrackID: trackID}
}

func gun(conf float64, box detection.Box) signals.Vote {
	return signals.Vote{Kind: signals.Weapon, Active: true, Strength: conf, Box: &box, Class: "gun"}
}

func loud() signals.Vote {
	return signals.Vote{Kind: signals.LoudNoise, Active: true, Strength: 0.2}
}

func TestTarget_Priority(t *testing.T) {
	box := detection.Box{X: 0, Y: 0, W: 10, H: 10}
	tests := []struct {
		name  string
		votes []signals.Vote
		want  Level
	}{
		{"none", nil, Clear},
		{"inactive only", []signals.Vote{signals.Inactive(signals.Weapon), signals.Inactive(signals.Fighting)}, Clear},
		{"loud", []signals.Vote{loud()}, LoudNoise},
		{"fight", []signals.Vote{fight(1)}, Fighting},
		{"weapon", []signals.Vote{gun(0.9, box)}, Weapon},
		{"fight+loud", []signals.Vote{loud(), fight(1)}, Fighting},
		{"weapon+loud", []signals.Vote{loud(), gun(0.9, box)}, Weapon},
		{"weapon+fight", []signals.Vote{fight(2), gun(0.9, box)}, Weapon},
		{"all", []signals.Vote{fight(1), loud(), gun(0.9, box)}, Weapon},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got, _ := Target(tc.votes); got != tc.want {
				t.Errorf("Target = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTarget_FightingEvidenceSorted(t *testing.T) {
	_, ev := Target([]signals.Vote{fight(7), fight(3), fight(7), signals.Inactive(signals.Fighting)})
	if diff := cmp.Diff([]int{3, 7}, ev.TrackIDs); diff != "" {
		t.Errorf("track ids (-want +got):\n%s", diff)
	}
}

// Weapon and fighting together must produce Weapon.
func TestMachine_WeaponBeatsFighting(t *testing.T) {
	m := NewMachine(DefaultConfig(), t0)
	st, ok := m.Step([]signals.Vote{fight(1), gun(0.9, detection.Box{W: 10, H: 10})}, cycle(1))
	if !ok || st.Level != Weapon {
		t.Fatalf("Step = %v, %v; want Weapon transition", st.Level, ok)
	}
	if st.Message != "Warning: Weapon Detected (gun)!" {
		t.Errorf("Message = %q", st.Message)
	}
	if st.Previous != Clear {
		t.Errorf("Previous = %v", st.Previous)
	}
}

func TestMachine_LoudNoiseOnly(t *testing.T) {
	m := NewMachine(DefaultConfig(), t0)
	st, ok := m.Step([]signals.Vote{signals.Inactive(signals.Fighting), signals.Inactive(signals.Weapon), loud()}, cycle(1))
	if !ok || st.Level != LoudNoise {
		t.Fatalf("Step = %v, %v; want LoudNoise", st.Level, ok)
	}
}

func TestMachine_ClearAfterDebounceExactlyOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClearDebounceCycles = 3
	m := NewMachine(cfg, t0)

	if _, ok := m.Step([]signals.Vote{fight(1)}, cycle(1)); !ok {
		t.Fatal("expected Fighting transition")
	}

	var emitted []AlertState
	for i := 2; i <= 10; i++ {
		if st, ok := m.Step(nil, cycle(i)); ok {
			emitted = append(emitted, st)
		}
		if i < 4 && m.State().Level != Fighting {
			t.Fatalf("cycle %d: stepped down before debounce", i)
		}
	}
	if len(emitted) != 1 {
		t.Fatalf("emitted %d transitions, want 1", len(emitted))
	}
	if emitted[0].Level != Clear || emitted[0].At != cycle(4) {
		t.Errorf("got %v at %v, want Clear at %v", emitted[0].Level, emitted[0].At, cycle(4))
	}
	if emitted[0].Message != "All clear." {
		t.Errorf("Message = %q", emitted[0].Message)
	}
}

func TestMachine_DebounceResetsOnReturn(t *testing.T) {
	m := NewMachine(DefaultConfig(), t0)
	m.Step([]signals.Vote{fight(1)}, cycle(1))
	m.Step(nil, cycle(2))
	m.Step(nil, cycle(3))
	if m.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", m.Pending())
	}
	if _, ok := m.Step([]signals.Vote{fight(1)}, cycle(4)); ok {
		t.Error("same evidence should not re-emit")
	}
	if m.Pending() != 0 {
		t.Errorf("Pending = %d after signal returned", m.Pending())
	}
	m.Step(nil, cycle(5))
	m.Step(nil, cycle(6))
	if m.State().Level != Fighting {
		t.Error("absence counter was not reset")
	}
}

func TestMachine_ImmediateBaseline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClearDebounceCycles = 1
	m := NewMachine(cfg, t0)

	m.Step([]signals.Vote{loud()}, cycle(1))
	st, ok := m.Step(nil, cycle(2))
	if !ok || st.Level != Clear {
		t.Errorf("Step = %v, %v; want immediate Clear", st.Level, ok)
	}
}

func TestMachine_NonClearMovesAreImmediate(t *testing.T) {
	box := detection.Box{X: 100, Y: 100, W: 50, H: 50}
	tests := []struct {
		name  string
		steps [][]signals.Vote
		want  []Level
	}{
		{"loud noise up to fighting", [][]signals.Vote{{loud()}, {loud(), fight(1)}}, []Level{LoudNoise, Fighting}},
		{"weapon down to fighting", [][]signals.Vote{{gun(0.9, box), fight(1)}, {fight(1)}}, []Level{Weapon, Fighting}},
		{"weapon down to loud noise", [][]signals.Vote{{gun(0.9, box)}, {loud()}}, []Level{Weapon, LoudNoise}},
		{"fighting down to loud noise", [][]signals.Vote{{fight(1)}, {loud()}}, []Level{Fighting, LoudNoise}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(DefaultConfig(), t0)
			for i, votes := range tt.steps {
				st, ok := m.Step(votes, cycle(i+1))
				if !ok || st.Level != tt.want[i] {
					t.Fatalf("cycle %d: Step = %v, %v; want %v emitted", i+1, st.Level, ok, tt.want[i])
				}
				if i > 0 && st.Previous != tt.want[i-1] {
					t.Errorf("cycle %d: Previous = %v, want %v", i+1, st.Previous, tt.want[i-1])
				}
			}
			if m.Pending() != 0 {
				t.Errorf("Pending = %d after non-Clear moves", m.Pending())
			}
		})
	}
}

func TestMachine_OnlyClearIsDebounced(t *testing.T) {
	m := NewMachine(DefaultConfig(), t0)
	m.Step([]signals.Vote{fight(1)}, cycle(1))

	// a quiet cycle starts the clear countdown; loud noise then switches at once
	if _, ok := m.Step(nil, cycle(2)); ok {
		t.Fatal("cycle 2: early Clear")
	}
	st, ok := m.Step([]signals.Vote{loud()}, cycle(3))
	if !ok || st.Level != LoudNoise {
		t.Fatalf("cycle 3: Step = %v, %v; want LoudNoise", st.Level, ok)
	}
	if m.Pending() != 0 {
		t.Errorf("Pending = %d, want countdown reset", m.Pending())
	}
	for i := 4; i <= 5; i++ {
		if _, ok := m.Step(nil, cycle(i)); ok {
			t.Fatalf("cycle %d: early Clear", i)
		}
	}
	st, ok = m.Step(nil, cycle(6))
	if !ok || st.Level != Clear || st.Previous != LoudNoise {
		t.Errorf("cycle 6: %+v, %v; want Clear", st, ok)
	}
}

func TestMachine_Idempotent(t *testing.T) {
	m := NewMachine(DefaultConfig(), t0)
	box := detection.Box{X: 100, Y: 100, W: 50, H: 50}
	votes := []signals.Vote{gun(0.9, box), fight(1)}

	count := 0
	for i := 1; i <= 20; i++ {
		if _, ok := m.Step(votes, cycle(i)); ok {
			count++
		}
	}
	if count != 1 {
		t.Errorf("emitted %d times for steady input, want 1", count)
	}

	// clear state is also stable
	m2 := NewMachine(DefaultConfig(), t0)
	for i := 1; i <= 5; i++ {
		if _, ok := m2.Step(nil, cycle(i)); ok {
			t.Fatal("Clear re-emitted")
		}
	}
}

func TestMachine_WeaponEvidence(t *testing.T) {
	m := NewMachine(DefaultConfig(), t0)
	first, _ := m.Step([]signals.Vote{gun(0.9, detection.Box{X: 100, Y: 100, W: 50, H: 50})}, cycle(1))

	// small jitter keeps the same evidence
	if _, ok := m.Step([]signals.Vote{gun(0.8, detection.Box{X: 103, Y: 101, W: 50, H: 50})}, cycle(2)); ok {
		t.Error("jittered box re-emitted")
	}

	// box moved far away: new evidence, same level
	st, ok := m.Step([]signals.Vote{gun(0.9, detection.Box{X: 400, Y: 100, W: 50, H: 50})}, cycle(3))
	if !ok || st.Level != Weapon {
		t.Fatalf("moved box: %v, %v", st.Level, ok)
	}
	if !st.Since.Equal(first.Since) {
		t.Errorf("Since changed on same-level re-emit: %v vs %v", st.Since, first.Since)
	}
	if st.ID == first.ID {
		t.Error("re-emitted state reused id")
	}

	// class changed
	knife := signals.Vote{Kind: signals.Weapon, Active: true, Strength: 0.9, Class: "knife", Box: &detection.Box{X: 400, Y: 100, W: 50, H: 50}}
	if st, ok := m.Step([]signals.Vote{knife}, cycle(4)); !ok || st.Evidence.Class != "knife" {
		t.Errorf("class change not emitted: %+v, %v", st, ok)
	}
}

func TestMachine_FightingEvidence(t *testing.T) {
	m := NewMachine(DefaultConfig(), t0)
	m.Step([]signals.Vote{fight(1)}, cycle(1))

	st, ok := m.Step([]signals.Vote{fight(1), fight(2)}, cycle(2))
	if !ok {
		t.Fatal("new subject should re-emit")
	}
	if diff := cmp.Diff([]int{1, 2}, st.Evidence.TrackIDs); diff != "" {
		t.Errorf("track ids (-want +got):\n%s", diff)
	}
	if _, ok := m.Step([]signals.Vote{fight(2), fight(1)}, cycle(3)); ok {
		t.Error("same subject set in a different order re-emitted")
	}
}

func TestMachine_AtMostOneTransitionPerCycle(t *testing.T) {
	m := NewMachine(DefaultConfig(), t0)
	box := detection.Box{W: 10, H: 10}
	seq := [][]signals.Vote{
		{loud()}, {fight(1)}, {gun(0.5, box)}, nil, {loud(), fight(2)}, nil, nil, nil, {gun(0.9, box), loud()},
	}
	for i, votes := range seq {
		before := m.State()
		st, ok := m.Step(votes, cycle(i+1))
		after := m.State()
		if ok != (before.ID != after.ID) {
			t.Errorf("cycle %d: emitted=%v but state id changed=%v", i, ok, before.ID != after.ID)
		}
		if ok && st.ID != after.ID {
			t.Errorf("cycle %d: returned state differs from held state", i)
		}
	}
}

func TestLevel_JSON(t *testing.T) {
	for _, l := range Levels {
		b, err := json.Marshal(l)
		if err != nil {
			t.Fatal(err)
		}
		var got Level
		if err := json.Unmarshal(b, &got); err != nil || got != l {
			t.Errorf("round trip %v: got %v, %v", l, got, err)
		}
	}
	var l Level
	if err := json.Unmarshal([]byte(`"Panic"`), &l); err == nil {
		t.Error("unknown level should fail")
	}
}
