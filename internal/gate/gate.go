// Package gate decides which phases of a project design workflow are open.
//
// Phases form an ordered dependency chain: a phase opens only once every
// phase before it is completed. The gate reads phase status and never
// writes it.
package gate

import (
	"errors"
	"fmt"

	"designgate/internal/domain"
)

// ErrIndexOutOfRange is matched by every IndexError.
var ErrIndexOutOfRange = errors.New("phase index out of range")

// IndexError reports a phase index outside [0, Len).
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("phase index %d out of range [0,%d)", e.Index, e.Len)
}

func (e *IndexError) Is(target error) bool { return target == ErrIndexOutOfRange }

// PhaseState pairs a phase with its gate decision.
type PhaseState struct {
	Index    int          `json:"index"`
	Phase    domain.Phase `json:"phase"`
	Unlocked bool         `json:"unlocked"`
}

// IsUnlocked reports whether the phase at index is accessible.
func IsUnlocked(phases []domain.Phase, index int) (bool, error) {
	if index < 0 || index >= len(phases) {
		return false, &IndexError{Index: index, Len: len(phases)}
	}
	for _, p := range phases[:index] {
		if p.Status != domain.PhaseCompleted {
			return false, nil
		}
	}
	return true, nil
}

// States evaluates the gate for every phase in a single pass.
func States(phases []domain.Phase) []PhaseState {
	out := make([]PhaseState, len(phases))
	open := true
	for i, p := range phases {
		out[i] = PhaseState{Index: i, Phase: p, Unlocked: open}
		if p.Status != domain.PhaseCompleted {
			open = false
		}
	}
	return out
}

// Current returns the index of the phase the workflow is on: the first
// unlocked phase that is not completed. It returns -1 when every phase is
// completed or there are none.
func Current(phases []domain.Phase) int {
	for i, p := range phases {
		if p.Status != domain.PhaseCompleted {
			return i
		}
	}
	return -1
}

// Check validates per-phase data invariants. IsUnlocked does not depend on
// them; loaders call Check to reject inconsistent records early.
func Check(phases []domain.Phase) error {
	var errs []error
	seen := make(map[string]int, len(phases))
	for i, p := range phases {
		label := p.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if p.ID != "" {
			if j, ok := seen[p.ID]; ok {
				errs = append(errs, fmt.Errorf("phase %s: duplicate id (also at index %d)", label, j))
			}
			seen[p.ID] = i
		}
		if !p.Status.Valid() {
			errs = append(errs, fmt.Errorf("phase %s: invalid status %q", label, p.Status))
		}
		if p.Progress < 0 || p.Progress > 100 {
			errs = append(errs, fmt.Errorf("phase %s: progress %d outside [0,100]", label, p.Progress))
		}
		if p.TotalSteps < 0 || p.CompletedSteps < 0 {
			errs = append(errs, fmt.Errorf("phase %s: negative step count", label))
		}
		if p.CompletedSteps > p.TotalSteps {
			errs = append(errs, fmt.Errorf("phase %s: completed_steps %d exceeds total_steps %d", label, p.CompletedSteps, p.TotalSteps))
		}
		if p.Status == domain.PhaseCompleted && p.Progress != 100 {
			errs = append(errs, fmt.Errorf("phase %s: completed phase must have progress 100, got %d", label, p.Progress))
		}
	}
	return errors.Join(errs...)
}
