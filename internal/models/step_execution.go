package models

import (
	"errors"
	"time"
)

// ErrExecutionClosed is returned when closing an execution that is no longer in progress
var ErrExecutionClosed = errors.New("step execution is not in progress")

// StepExecution records one recipe step actually entered within a batch
type StepExecution struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	BatchID          uint            `gorm:"index" json:"batchId"`
	RecipeStepID     uint            `json:"recipeStepId"`
	StepNumber       int             `json:"stepNumber"`
	StartedAt        time.Time       `json:"startedAt"`
	EndedAt          *time.Time      `json:"endedAt"`
	ActualDuration   *float64        `json:"actualDuration"` // seconds
	MeasuredQuantity *float64        `json:"measuredQuantity"`
	CriterionMet     bool            `json:"criterionMet"`
	CriterionValue   string          `json:"criterionValue,omitempty"`
	Deviation        *float64        `json:"deviation"` // percent
	Ecart            bool            `json:"ecart"`
	Status           ExecutionStatus `gorm:"index" json:"status"`
	Comment          string          `json:"comment,omitempty"`
}

// TableName sets the table name for StepExecution
func (StepExecution) TableName() string {
	return "step_executions"
}

// Close ends the execution at the given instant with a terminal status.
// The actual duration is always computed from the stored start.
func (e *StepExecution) Close(at time.Time, status ExecutionStatus) error {
	if e.Status != ExecutionInProgress {
		return ErrExecutionClosed
	}
	duration := at.Sub(e.StartedAt).Seconds()
	if duration < 0 {
		duration = 0
	}
	e.EndedAt = &at
	e.ActualDuration = &duration
	e.Status = status
	return nil
}

// ExecutionStatus represents the status of a step execution
type ExecutionStatus string

const (
	ExecutionInProgress  ExecutionStatus = "InProgress"
	ExecutionCompleted   ExecutionStatus = "Completed"
	ExecutionError       ExecutionStatus = "Error"
	ExecutionInterrupted ExecutionStatus = "Interrupted"
)
