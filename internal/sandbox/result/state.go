package result

import (
	"fmt"

	appErr "compilebox/pkg/errors"
)

// JobState represents the lifecycle state of a job.
type JobState string

const (
	StateCreated      JobState = "CREATED"
	StateMaterialized JobState = "MATERIALIZED"
	StateBuilding     JobState = "BUILDING"
	StateBuildFailed  JobState = "BUILD_FAILED"
	StateBuilt        JobState = "BUILT"
	StateRunning      JobState = "RUNNING"
	StateRunSucceeded JobState = "RUN_SUCCEEDED"
	StateRunFailed    JobState = "RUN_FAILED"
	StateTimedOut     JobState = "TIMED_OUT"
	StateFailed       JobState = "FAILED" // input or infrastructure error
)

var transitions = map[JobState][]JobState{
	StateCreated:      {StateMaterialized, StateFailed},
	StateMaterialized: {StateBuilding, StateFailed},
	StateBuilding:     {StateBuilt, StateBuildFailed, StateTimedOut, StateFailed},
	StateBuilt:        {StateRunning, StateFailed},
	StateRunning:      {StateRunSucceeded, StateRunFailed, StateTimedOut, StateFailed},
}

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error for an illegal edge.
func ValidateTransition(from, to JobState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal job transition %s -> %s", from, to)
	}
	return nil
}

// TerminalState maps an assembled result onto the state it ends in.
func TerminalState(res JobResult) JobState {
	switch {
	case res.Success:
		return StateRunSucceeded
	case res.TimedOut:
		return StateTimedOut
	case res.ErrorKind == appErr.KindBuild:
		return StateBuildFailed
	case res.ErrorKind == appErr.KindRuntime:
		return StateRunFailed
	default:
		return StateFailed
	}
}
