package patch

import (
	"time"

	"github.com/google/uuid"
)

// State is the step a patch attempt is in.
type State int

const (
	Idle State = iota
	BaselineCheck
	Approach
	SealConfirm
	Sealing
	GigasealWait
	BreakIn
	Done
	Aborted
	Failed
)

var stateNames = [...]string{
	"Idle", "BaselineCheck", "Approach", "SealConfirm", "Sealing",
	"GigasealWait", "BreakIn", "Done", "Aborted", "Failed",
}

func (s State) String() string {
	if s < Idle || s > Failed {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == Done || s == Aborted || s == Failed
}

// Reading is one resistance measurement.
type Reading struct {
	At time.Time
	R  float64
}

// Session is the state of one patch attempt.
type Session struct {
	ID        uuid.UUID
	State     State
	Started   time.Time
	Ended     time.Time
	Readings  []Reading
	Pressure  float64 // Last pressure commanded (mbar)
	Steps     int     // Approach steps taken
	Trials    int     // Break-in ramps applied
	SealStart time.Time
	Err       error
}

func newSession(now time.Time) *Session {
	return &Session{ID: uuid.New(), State: Idle, Started: now}
}

func (s *Session) clone() Session {
	c := *s
	c.Readings = append([]Reading(nil), s.Readings...)
	return c
}
