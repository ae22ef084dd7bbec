package collector

import "github.com/RPG812/debridge-token-analytics/internal/constants"

// RateState is the current block step and its bounds. Min <= Current <= Max.
type RateState struct {
	Current uint64
	Min     uint64
	Max     uint64
}

// NewRateState starts at initial with Max = 2*initial and Min = 1
func NewRateState(initial uint64) RateState {
	if initial < constants.MinBlockStep {
		initial = constants.MinBlockStep
	}
	return RateState{
		Current: initial,
		Min:     constants.MinBlockStep,
		Max:     initial * constants.MaxStepMultiplier,
	}
}

// OnRateLimited halves the step, never going below Min
func (s RateState) OnRateLimited() RateState {
	next := s.Current / 2
	if next < s.Min {
		next = s.Min
	}
	s.Current = next
	return s
}

// OnBatchAccepted grows the step by half when the batch was sparse.
// Growth is at least one block and is capped at Max.
func (s RateState) OnBatchAccepted(events int) RateState {
	if events >= constants.SparseBatchThreshold || s.Current >= s.Max {
		return s
	}
	next := s.Current * 3 / 2
	if next <= s.Current {
		next = s.Current + 1
	}
	if next > s.Max {
		next = s.Max
	}
	s.Current = next
	return s
}
