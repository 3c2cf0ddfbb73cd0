package tasks

import (
	"fmt"
	"time"
)

// ProgressUpdate represents a progress event during a download run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	RunID   string // Run the update belongs to
	State   State  // Orchestration state entered
	Step    int    // Current step number
	Total   int    // Total steps in a run
	Message string // Human-readable message for display
	Data    any    // Optional state-specific data
}

// State is one step of the orchestration state machine.
type State int32

const (
	StateIdle State = iota
	StateAcquiring
	StateProbing
	StateRunning
	StateReleasing
	StateFailed
)

// totalSteps counts the states a run announces on its progress channel.
const totalSteps = 4

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring_execution_guarantee"
	case StateProbing:
		return "probing_server"
	case StateRunning:
		return "running"
	case StateReleasing:
		return "releasing"
	case StateFailed:
		return "failed"
	default:
		return ""
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateFailed
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func acquiringUpdate(id string, ttl time.Duration) ProgressUpdate {
	return ProgressUpdate{
		RunID:   id,
		State:   StateAcquiring,
		Step:    1,
		Total:   totalSteps,
		Message: "Acquiring execution guarantee...",
		Data:    ttl,
	}
}

func probingUpdate(id, url string) ProgressUpdate {
	return ProgressUpdate{
		RunID:   id,
		State:   StateProbing,
		Step:    2,
		Total:   totalSteps,
		Message: fmt.Sprintf("Waking conversion server at %s...", url),
		Data:    url,
	}
}

func runningUpdate(id string, ready bool) ProgressUpdate {
	msg := "Starting download..."
	if !ready {
		msg = "Conversion server not ready, starting download anyway..."
	}
	return ProgressUpdate{
		RunID:   id,
		State:   StateRunning,
		Step:    3,
		Total:   totalSteps,
		Message: msg,
		Data:    ready,
	}
}

func releasingUpdate(id string) ProgressUpdate {
	return ProgressUpdate{
		RunID:   id,
		State:   StateReleasing,
		Step:    4,
		Total:   totalSteps,
		Message: "Releasing execution guarantee...",
	}
}

func settledUpdate(result Result) ProgressUpdate {
	msg := "Download complete"
	if result.Err != nil {
		msg = fmt.Sprintf("Download failed: %v", result.Err)
	} else if result.Status != "" {
		msg = "Download complete: " + result.Status
	}
	return ProgressUpdate{
		RunID:   result.RunID,
		State:   result.State,
		Step:    totalSteps,
		Total:   totalSteps,
		Message: msg,
		Data:    result,
	}
}
