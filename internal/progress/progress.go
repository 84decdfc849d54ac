// Package progress derives batch completion, remaining time and dosing
// deviation from persisted batch state. Nothing here is stored; every value
// is recomputed on read.
package progress

import (
	"math"
	"time"

	"mixerline/internal/models"
	"mixerline/internal/tracker"
)

// Input is the persisted state a report is computed from.
type Input struct {
	Steps []models.RecipeStep
	// CurrentStep is the 1-based step number the batch is on.
	CurrentStep int
	// Fraction is the completion of the current step, 0-100.
	Fraction float64
	// Status is the batch status; empty is treated as Running.
	Status     models.BatchStatus
	Executions []models.StepExecution
	Now        time.Time
}

// Report is the derived progress of a batch.
type Report struct {
	TotalSteps         int      `json:"totalSteps"`
	CurrentStep        int      `json:"currentStep"`
	CompletedSteps     int      `json:"completedSteps"`
	OverallProgress    float64  `json:"overallProgress"`
	TotalPlannedWeight float64  `json:"totalPlannedWeight"`
	TotalDosedWeight   float64  `json:"totalDosedWeight"`
	GlobalDeviation    *float64 `json:"globalDeviation"`
	PlannedDuration    int      `json:"plannedDuration"`
	RemainingDuration  float64  `json:"remainingDuration"`
	DeviatedSteps      int      `json:"deviatedSteps"`
}

// Compute builds the report for in.
func Compute(in Input) Report {
	total := len(in.Steps)
	running := in.Status == "" || in.Status == models.BatchRunning
	completed := in.CurrentStep - 1
	if in.Status == models.BatchCompleted {
		completed = total
	}
	completed = clamp(completed, 0, total)

	r := Report{
		TotalSteps:     total,
		CurrentStep:    in.CurrentStep,
		CompletedSteps: completed,
	}
	if total > 0 {
		r.OverallProgress = float64(completed) / float64(total) * 100
	}

	measured := map[int]float64{}
	var open *models.StepExecution
	for i := range in.Executions {
		exec := &in.Executions[i]
		switch exec.Status {
		case models.ExecutionCompleted:
			if exec.MeasuredQuantity != nil {
				measured[exec.StepNumber] = *exec.MeasuredQuantity
			}
			if exec.Ecart {
				r.DeviatedSteps++
			}
		case models.ExecutionInProgress:
			open = exec
		}
	}

	for _, step := range in.Steps {
		r.TotalPlannedWeight += step.PlannedWeight()
		r.PlannedDuration += step.Duration
		if step.Number <= completed {
			r.TotalDosedWeight += measured[step.Number]
		}
	}

	if running && in.CurrentStep >= 1 && in.CurrentStep <= total {
		current := in.Steps[in.CurrentStep-1]
		r.TotalDosedWeight += current.PlannedWeight() * clampFloat(in.Fraction, 0, 100) / 100

		r.RemainingDuration = float64(current.Duration)
		if open != nil && open.StepNumber == current.Number {
			r.RemainingDuration = tracker.Time(current, *open, in.Now).Remaining
		}
		for _, step := range in.Steps[in.CurrentStep:] {
			r.RemainingDuration += float64(step.Duration)
		}
	}

	if r.TotalPlannedWeight > 0 {
		d := (r.TotalDosedWeight - r.TotalPlannedWeight) / r.TotalPlannedWeight * 100
		r.GlobalDeviation = &d
	}
	return r
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
