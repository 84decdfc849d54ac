package models

import "time"

// Batch represents one execution run of a recipe on a mixer
type Batch struct {
	ID           uint        `gorm:"primary_key" json:"id"`
	Number       string      `gorm:"unique_index;not null" json:"number"`
	MixerID      uint        `gorm:"index" json:"mixerId"`
	RecipeID     uint        `gorm:"index" json:"recipeId"`
	RecipeName   string      `json:"recipeName"`
	StartedAt    time.Time   `json:"startedAt"`
	CompletedAt  *time.Time  `json:"completedAt"`
	Status       BatchStatus `gorm:"index" json:"status"`
	Verdict      BatchStatus `json:"verdict,omitempty"`
	Operator     string      `json:"operator,omitempty"`
	Formula      string      `json:"formula,omitempty"`
	Designation  string      `json:"designation,omitempty"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	CurrentStep  int         `json:"currentStep"`
	TotalSteps   int         `json:"totalSteps"`
	TargetTotal  float64     `json:"targetTotal"`
	DosedTotal   float64     `json:"dosedTotal"`
	Reason       string      `json:"reason,omitempty"`
	StepsJSON    string      `gorm:"type:text" json:"-"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	// Transient field (ignored by GORM)
	Steps []RecipeStep `gorm:"-" json:"steps,omitempty"`
}

// TableName sets the table name for Batch
func (Batch) TableName() string {
	return "batches"
}

// GetSteps returns the recipe snapshot taken when the batch started
func (b *Batch) GetSteps() ([]RecipeStep, error) {
	if len(b.Steps) > 0 {
		return b.Steps, nil
	}
	steps, err := DecodeSteps(b.StepsJSON)
	if err != nil {
		return nil, err
	}
	b.Steps = steps
	return steps, nil
}

// SetSteps stores the recipe snapshot
func (b *Batch) SetSteps(steps []RecipeStep) error {
	raw, err := EncodeSteps(steps)
	if err != nil {
		return err
	}
	b.StepsJSON = raw
	b.Steps = steps
	return nil
}

// BatchStatus represents the lifecycle status of a batch
type BatchStatus string

const (
	BatchRunning   BatchStatus = "Running"
	BatchCompleted BatchStatus = "Completed"
	BatchAborted   BatchStatus = "Aborted"
	BatchError     BatchStatus = "Error"
	BatchSuccess   BatchStatus = "Success"
	BatchAlert     BatchStatus = "Alert"
)

// Terminal reports whether the batch can no longer change
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchAborted, BatchError:
		return true
	}
	return false
}

// BatchStep is the coarse planned-versus-actual record of one recipe step
type BatchStep struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	BatchID          uint            `gorm:"index" json:"batchId"`
	RecipeStepID     uint            `json:"recipeStepId"`
	Number           int             `json:"number"`
	Function         StepFunction    `json:"function"`
	Product          string          `json:"product,omitempty"`
	PlannedDuration  int             `json:"plannedDuration"`
	PlannedWeight    float64         `json:"plannedWeight"`
	ActualDuration   float64         `json:"actualDuration"`
	MeasuredQuantity float64         `json:"measuredQuantity"`
	Deviation        *float64        `json:"deviation"`
	Ecart            bool            `json:"ecart"`
	Status           BatchStepStatus `json:"status"`
}

// TableName sets the table name for BatchStep
func (BatchStep) TableName() string {
	return "batch_steps"
}

// BatchStepStatus represents the state of a coarse step record
type BatchStepStatus string

const (
	BatchStepPending BatchStepStatus = "Pending"
	BatchStepActive  BatchStepStatus = "Active"
	BatchStepDone    BatchStepStatus = "Done"
	BatchStepSkipped BatchStepStatus = "Skipped"
)

// BatchDistribution accumulates planned and dosed quantities of one product in a batch
type BatchDistribution struct {
	ID        uint    `gorm:"primary_key" json:"id"`
	BatchID   uint    `gorm:"unique_index:idx_distribution_batch_product" json:"batchId"`
	Product   string  `gorm:"unique_index:idx_distribution_batch_product" json:"product"`
	Planned   float64 `json:"planned"`
	Dosed     float64 `json:"dosed"`
	FinalDose float64 `json:"finalDose"`
}

// TableName sets the table name for BatchDistribution
func (BatchDistribution) TableName() string {
	return "batch_distributions"
}
