package fusion

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-sentry/pkg/signals"
)

// Config controls debouncing and re-emission.
type Config struct {
	// ClearDebounceCycles is how many consecutive cycles every signal must be
	// absent before the machine returns to Clear. 1 clears at once.
	// Moves between non-Clear levels are never delayed.
	ClearDebounceCycles int `json:"clear_debounce_window"`

	// EvidenceIoU is the box overlap below which a weapon counts as a new one.
	EvidenceIoU float64 `json:"evidence_iou_threshold"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ClearDebounceCycles: 3,
		EvidenceIoU:         0.5,
	}
}

// Machine is the alert state machine. Step is called from the fusion loop;
// State may be read from anywhere.
type Machine struct {
	mu     sync.RWMutex
	config Config
	state  AlertState
	absent int
	newID  func() string
}

// NewMachine creates a machine holding Clear since now.
func NewMachine(cfg Config, now time.Time) *Machine {
	m := &Machine{
		config: cfg,
		newID:  uuid.NewString,
	}
	m.state = AlertState{
		ID:      m.newID(),
		Level:   Clear,
		Since:   now,
		At:      now,
		Message: Message(Clear, Evidence{}),
	}
	return m
}

// SetConfig replaces the debounce settings. The pending absence count is kept.
func (m *Machine) SetConfig(cfg Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// State returns the live alert state.
func (m *Machine) State() AlertState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Pending returns how many consecutive quiet cycles have passed while an
// alert is held.
func (m *Machine) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.absent
}

// Step runs one fusion cycle. It returns the new state and true when a
// transition is emitted, or the held state and false otherwise.
//
// Moving to any non-Clear level is immediate, in either direction of
// severity. Returning to Clear waits until no signal has been active for
// ClearDebounceCycles consecutive cycles. Staying on the same level re-emits
// only when the evidence changes.
func (m *Machine) Step(votes []signals.Vote, now time.Time) (AlertState, bool) {
	target, ev := Target(votes)

	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.state
	switch {
	case target == held.Level:
		m.absent = 0
		if target == Clear || sameEvidence(target, held.Evidence, ev, m.config.EvidenceIoU) {
			return held, false
		}
		m.state = AlertState{
			ID:       m.newID(),
			Level:    target,
			Previous: held.Level,
			Since:    held.Since,
			At:       now,
			Message:  Message(target, ev),
			Evidence: ev,
		}
		return m.state, true

	case target == Clear:
		m.absent++
		if m.absent < m.config.ClearDebounceCycles {
			return held, false
		}
	}

	m.absent = 0
	m.state = AlertState{
		ID:       m.newID(),
		Level:    target,
		Previous: held.Level,
		Since:    now,
		At:       now,
		Message:  Message(target, ev),
		Evidence: ev,
	}
	return m.state, true
}
