// Package tracker owns the per-step execution records of running batches:
// opening and closing steps, measurements, criterion acknowledgement and
// live step timing.
package tracker

import (
	"math"
	"time"

	"mixerline/internal/apperr"
	"mixerline/internal/clock"
	"mixerline/internal/models"
	"mixerline/internal/monitoring"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"
)

// Tracker stamps and persists step executions. Every method runs inside the
// caller's transaction while the caller holds the mixer lock.
type Tracker struct {
	clock   clock.Clock
	monitor *monitoring.Monitor
}

// New creates a tracker. monitor may be nil.
func New(clk clock.Clock, monitor *monitoring.Monitor) *Tracker {
	return &Tracker{clock: clk, monitor: monitor}
}

// Timing is the live timing of an in-progress step, derived from its start.
type Timing struct {
	StepNumber        int                 `json:"stepNumber"`
	Function          models.StepFunction `json:"function"`
	StartedAt         time.Time           `json:"startedAt"`
	PlannedDuration   int                 `json:"plannedDuration"`
	Elapsed           float64             `json:"elapsed"`
	Remaining         float64             `json:"remaining"`
	Overrun           bool                `json:"overrun"`
	CriterionRequired bool                `json:"criterionRequired"`
	CriterionMet      bool                `json:"criterionMet"`
	Eligible          bool                `json:"eligible"`
}

// Time derives elapsed and remaining seconds for exec at now.
func Time(step models.RecipeStep, exec models.StepExecution, now time.Time) Timing {
	elapsed := math.Max(0, now.Sub(exec.StartedAt).Seconds())
	planned := float64(step.Duration)
	return Timing{
		StepNumber:        exec.StepNumber,
		Function:          step.Function,
		StartedAt:         exec.StartedAt,
		PlannedDuration:   step.Duration,
		Elapsed:           elapsed,
		Remaining:         math.Max(0, planned-elapsed),
		Overrun:           elapsed > planned,
		CriterionRequired: step.HasCriterion(),
		CriterionMet:      exec.CriterionMet,
		Eligible:          !step.HasCriterion() || exec.CriterionMet,
	}
}

// Now returns the tracker's clock reading.
func (t *Tracker) Now() time.Time {
	return t.clock.Now()
}

// Open starts the execution of step within batchID and activates its
// coarse step row.
func (t *Tracker) Open(tx *gorm.DB, op string, batchID uint, step models.RecipeStep) (*models.StepExecution, error) {
	var open int64
	err := tx.Model(&models.StepExecution{}).
		Where("batch_id = ? AND status = ?", batchID, models.ExecutionInProgress).
		Count(&open).Error
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	if open > 0 {
		return nil, apperr.Conflict(op, "batch %d already has a step in progress", batchID)
	}

	exec := models.StepExecution{
		BatchID:      batchID,
		RecipeStepID: step.ID,
		StepNumber:   step.Number,
		StartedAt:    t.clock.Now(),
		Status:       models.ExecutionInProgress,
	}
	if err := tx.Create(&exec).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	if err := setStepStatus(tx, op, batchID, step.Number, models.BatchStepActive); err != nil {
		return nil, err
	}

	zap.S().Debugw("Step opened", "batch", batchID, "step", step.Number, "function", step.Function)
	return &exec, nil
}

// OpenExecution returns the in-progress execution of a batch.
func OpenExecution(db *gorm.DB, op string, batchID uint) (*models.StepExecution, error) {
	var exec models.StepExecution
	err := db.Where("batch_id = ? AND status = ?", batchID, models.ExecutionInProgress).First(&exec).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, apperr.Conflict(op, "batch %d has no step in progress", batchID)
	}
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return &exec, nil
}

// Executions lists the executions of a batch in the order they were opened.
func Executions(db *gorm.DB, op string, batchID uint) ([]models.StepExecution, error) {
	var list []models.StepExecution
	if err := db.Where("batch_id = ?", batchID).Order("id asc").Find(&list).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return list, nil
}

// Steps lists the coarse step rows of a batch by step number.
func Steps(db *gorm.DB, op string, batchID uint) ([]models.BatchStep, error) {
	var list []models.BatchStep
	if err := db.Where("batch_id = ?", batchID).Order("number asc").Find(&list).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return list, nil
}

// CheckEligible fails with Conflict while step carries a completion
// criterion that has not been marked on exec.
func CheckEligible(op string, step models.RecipeStep, exec *models.StepExecution) error {
	if step.HasCriterion() && !exec.CriterionMet {
		return apperr.Conflict(op, "step %d is waiting for its completion criterion %q", step.Number, step.Criterion)
	}
	return nil
}

// Measure stores a measured quantity on the open execution.
func (t *Tracker) Measure(tx *gorm.DB, op string, exec *models.StepExecution, quantity float64) error {
	if quantity < 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return apperr.Validation(op, "measured quantity must be a non-negative number, got %v", quantity)
	}
	if err := tx.Model(exec).Update("measured_quantity", quantity).Error; err != nil {
		return apperr.Unavailable(op, err)
	}
	exec.MeasuredQuantity = &quantity
	return nil
}

// MarkCriterion records that the completion criterion of the open step was
// satisfied. An empty value keeps the criterion text itself.
func (t *Tracker) MarkCriterion(tx *gorm.DB, op string, step models.RecipeStep, exec *models.StepExecution, value, comment string) error {
	if !step.HasCriterion() {
		return apperr.Conflict(op, "step %d has no completion criterion", step.Number)
	}
	if value == "" {
		value = step.Criterion
	}
	fields := map[string]interface{}{
		"criterion_met":   true,
		"criterion_value": value,
	}
	if comment != "" {
		fields["comment"] = comment
	}
	if err := tx.Model(exec).Updates(fields).Error; err != nil {
		return apperr.Unavailable(op, err)
	}
	exec.CriterionMet = true
	exec.CriterionValue = value
	if comment != "" {
		exec.Comment = comment
	}
	return nil
}

// Closure is a closed step and its coarse row.
type Closure struct {
	Step      models.RecipeStep    `json:"-"`
	Execution models.StepExecution `json:"execution"`
	Row       models.BatchStep     `json:"step"`
}

// Close ends exec with status. A completed step without a recorded
// measurement takes its planned weight as the computed quantity. Deviation
// is computed for any step with a planned weight and a quantity.
func (t *Tracker) Close(tx *gorm.DB, op string, step models.RecipeStep, exec *models.StepExecution, status models.ExecutionStatus, comment string) (*Closure, error) {
	if err := exec.Close(t.clock.Now(), status); err != nil {
		return nil, apperr.Conflict(op, "step %d: %v", exec.StepNumber, err)
	}
	if exec.MeasuredQuantity == nil && status == models.ExecutionCompleted && step.Doses() {
		planned := step.PlannedWeight()
		exec.MeasuredQuantity = &planned
	}
	if exec.MeasuredQuantity != nil {
		exec.Deviation, exec.Ecart = Deviation(*exec.MeasuredQuantity, step.PlannedWeight())
	}
	if comment != "" {
		exec.Comment = comment
	}
	if err := tx.Save(exec).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	var row models.BatchStep
	err := tx.Where("batch_id = ? AND number = ?", exec.BatchID, exec.StepNumber).First(&row).Error
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	row.ActualDuration = *exec.ActualDuration
	if exec.MeasuredQuantity != nil {
		row.MeasuredQuantity = *exec.MeasuredQuantity
	}
	row.Deviation = exec.Deviation
	row.Ecart = exec.Ecart
	row.Status = models.BatchStepDone
	if status != models.ExecutionCompleted {
		row.Status = models.BatchStepSkipped
	}
	if err := tx.Save(&row).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	if exec.Ecart {
		zap.S().Warnw("Step deviation above tolerance",
			"batch", exec.BatchID,
			"step", exec.StepNumber,
			"product", step.Product,
			"planned", step.PlannedWeight(),
			"measured", *exec.MeasuredQuantity,
			"deviation", *exec.Deviation,
		)
	}
	return &Closure{Step: step, Execution: *exec, Row: row}, nil
}

// SkipPending marks every coarse step row of a batch that never started as Skipped.
func SkipPending(tx *gorm.DB, op string, batchID uint) error {
	err := tx.Model(&models.BatchStep{}).
		Where("batch_id = ? AND status = ?", batchID, models.BatchStepPending).
		Update("status", models.BatchStepSkipped).Error
	if err != nil {
		return apperr.Unavailable(op, err)
	}
	return nil
}

// Record reports a committed closure to the metrics.
func (t *Tracker) Record(c *Closure) {
	if c == nil || c.Execution.ActualDuration == nil {
		return
	}
	t.monitor.StepClosed(string(c.Step.Function), c.Step.Product, *c.Execution.ActualDuration, c.Execution.Ecart)
}

func setStepStatus(tx *gorm.DB, op string, batchID uint, number int, status models.BatchStepStatus) error {
	err := tx.Model(&models.BatchStep{}).
		Where("batch_id = ? AND number = ?", batchID, number).
		Update("status", status).Error
	if err != nil {
		return apperr.Unavailable(op, err)
	}
	return nil
}
