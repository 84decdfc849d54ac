// Package batches runs production batches on mixers: admission, step
// advancement, termination and the read side used by operators.
//
// Lifecycle calls for one mixer are serialized by the mixer lock and each
// runs as a single transaction. Events, metrics and inventory
// announcements go out only after commit.
package batches

import (
	"context"
	"strings"

	"mixerline/internal/alarms"
	"mixerline/internal/apperr"
	"mixerline/internal/auth"
	"mixerline/internal/catalog"
	"mixerline/internal/database"
	"mixerline/internal/events"
	"mixerline/internal/inventory"
	"mixerline/internal/locks"
	"mixerline/internal/mixers"
	"mixerline/internal/models"
	"mixerline/internal/monitoring"
	"mixerline/internal/tracker"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"go.uber.org/zap"
)

// Alarm codes raised by dosing.
const (
	CodeStockShortage = "STOCK_SHORTAGE"
	CodeStockCritical = "STOCK_CRITICAL"
)

// Manager owns batch sessions.
type Manager struct {
	db      *gorm.DB
	locks   *locks.Locker
	tracker *tracker.Tracker
	ledger  *inventory.Ledger
	alarms  *alarms.Correlator
	monitor *monitoring.Monitor
	events  events.Publisher
}

// Deps are the collaborators of a Manager.
type Deps struct {
	DB      *gorm.DB
	Locks   *locks.Locker
	Tracker *tracker.Tracker
	Ledger  *inventory.Ledger
	Alarms  *alarms.Correlator
	Monitor *monitoring.Monitor
	Events  events.Publisher
}

// New creates a manager.
func New(d Deps) *Manager {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Manager{
		db:      d.DB,
		locks:   d.Locks,
		tracker: d.Tracker,
		ledger:  d.Ledger,
		alarms:  d.Alarms,
		monitor: d.Monitor,
		events:  d.Events,
	}
}

// StartInput describes a batch to admit.
type StartInput struct {
	RecipeID uint   `json:"recipeId"`
	Operator string `json:"operator"`
	// Number defaults to a generated identifier.
	Number       string `json:"number"`
	Formula      string `json:"formula"`
	Designation  string `json:"designation"`
	Manufacturer string `json:"manufacturer"`
}

// AdvanceInput carries the optional measurement and comment closing a step.
type AdvanceInput struct {
	Measured *float64 `json:"measured"`
	Comment  string   `json:"comment"`
}

// Advance is the outcome of closing a step.
type Advance struct {
	Batch    *models.Batch         `json:"batch"`
	Closed   *models.StepExecution `json:"closed"`
	Opened   *models.StepExecution `json:"opened,omitempty"`
	Movement *inventory.Movement   `json:"movement,omitempty"`
	Alarms   []models.Alarm        `json:"alarms,omitempty"`
	Finished bool                  `json:"finished"`
}

// outcome collects what a transaction produced for post-commit announcement.
type outcome struct {
	closure  *tracker.Closure
	movement *inventory.Movement
	alarms   []models.Alarm
}

// StartBatch admits a new batch on an idle mixer: it snapshots the recipe,
// binds the mixer to the batch and opens the first step.
func (m *Manager) StartBatch(ctx context.Context, mixerID uint, in StartInput) (*models.Batch, error) {
	const op = "batches.StartBatch"
	p, err := auth.Require(ctx, op, auth.RoleOperator)
	if err != nil {
		return nil, err
	}
	if in.RecipeID == 0 {
		return nil, apperr.Validation(op, "recipe id is required")
	}
	in.Number = strings.TrimSpace(in.Number)
	if in.Number == "" {
		in.Number = "B-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if in.Operator == "" {
		in.Operator = p.Subject
	}

	unlock, err := m.locks.Mixer(op, mixerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var batch models.Batch
	err = database.WithTx(m.db, func(tx *gorm.DB) error {
		mixer, err := mixers.Load(tx, op, mixerID)
		if err != nil {
			return err
		}
		if mixer.ActiveBatchID != nil {
			return apperr.Conflict(op, "mixer %d is already running batch %d", mixerID, *mixer.ActiveBatchID)
		}
		recipe, err := catalog.Load(tx, op, in.RecipeID)
		if err != nil {
			return err
		}
		if !recipe.Active {
			return apperr.Conflict(op, "recipe %d is not active", recipe.ID)
		}
		if len(recipe.Steps) == 0 {
			return apperr.Validation(op, "recipe %d has no steps", recipe.ID)
		}

		var taken int64
		if err := tx.Model(&models.Batch{}).Where("number = ?", in.Number).Count(&taken).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		if taken > 0 {
			return apperr.Conflict(op, "batch number %q is already used", in.Number)
		}

		batch = models.Batch{
			Number:       in.Number,
			MixerID:      mixerID,
			RecipeID:     recipe.ID,
			RecipeName:   recipe.Name,
			StartedAt:    m.tracker.Now(),
			Status:       models.BatchRunning,
			Operator:     in.Operator,
			Formula:      in.Formula,
			Designation:  in.Designation,
			Manufacturer: in.Manufacturer,
			CurrentStep:  1,
			TotalSteps:   len(recipe.Steps),
		}
		for _, step := range recipe.Steps {
			batch.TargetTotal += step.PlannedWeight()
		}
		if err := batch.SetSteps(recipe.Steps); err != nil {
			return apperr.Unavailable(op, err)
		}
		if err := tx.Create(&batch).Error; err != nil {
			return apperr.Unavailable(op, err)
		}

		if err := createPlan(tx, op, batch.ID, recipe.Steps); err != nil {
			return err
		}
		if err := mixers.AssignRecipe(tx, op, mixerID, recipe.ID, batch.ID); err != nil {
			return err
		}
		_, err = m.tracker.Open(tx, op, batch.ID, recipe.Steps[0])
		return err
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	zap.S().Infow("Batch started",
		"mixer", mixerID,
		"batch", batch.ID,
		"number", batch.Number,
		"recipe", batch.RecipeName,
		"steps", batch.TotalSteps,
		"operator", batch.Operator,
	)
	m.monitor.BatchStarted(mixers.Label(mixerID))
	m.events.Publish(events.Event{Type: events.BatchStarted, MixerID: mixerID, BatchID: batch.ID, At: batch.StartedAt, Payload: batch})
	return &batch, nil
}

// createPlan writes the coarse step rows and one distribution row per product.
func createPlan(tx *gorm.DB, op string, batchID uint, steps []models.RecipeStep) error {
	planned := map[string]float64{}
	var products []string
	for _, step := range steps {
		row := models.BatchStep{
			BatchID:         batchID,
			RecipeStepID:    step.ID,
			Number:          step.Number,
			Function:        step.Function,
			Product:         step.Product,
			PlannedDuration: step.Duration,
			PlannedWeight:   step.PlannedWeight(),
			Status:          models.BatchStepPending,
		}
		if err := tx.Create(&row).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		if step.Product == "" {
			continue
		}
		if _, seen := planned[step.Product]; !seen {
			products = append(products, step.Product)
		}
		planned[step.Product] += step.PlannedWeight()
	}

	for _, product := range products {
		dist := models.BatchDistribution{BatchID: batchID, Product: product, Planned: planned[product]}
		if err := tx.Create(&dist).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
	}
	return nil
}

// AdvanceStep closes the current step of the mixer's running batch and
// opens the next one. Closing the last step completes the batch.
func (m *Manager) AdvanceStep(ctx context.Context, mixerID uint, in AdvanceInput) (*Advance, error) {
	const op = "batches.AdvanceStep"
	p, err := auth.Require(ctx, op, auth.RoleOperator)
	if err != nil {
		return nil, err
	}

	unlock, err := m.locks.Mixer(op, mixerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		res = &Advance{}
		out outcome
	)
	err = database.WithTx(m.db, func(tx *gorm.DB) error {
		s, err := m.session(tx, op, mixerID)
		if err != nil {
			return err
		}
		if err := tracker.CheckEligible(op, s.step, s.exec); err != nil {
			return err
		}
		if in.Measured != nil {
			if err := m.tracker.Measure(tx, op, s.exec, *in.Measured); err != nil {
				return err
			}
		}
		out, err = m.complete(tx, op, s, p.Subject, in.Comment)
		if err != nil {
			return err
		}
		res.Closed = &out.closure.Execution

		if s.batch.CurrentStep >= s.batch.TotalSteps {
			res.Finished = true
			return m.finish(tx, op, s.batch, models.BatchCompleted, "")
		}

		next := s.steps[s.batch.CurrentStep]
		s.batch.CurrentStep = next.Number
		if err := tx.Model(s.batch).Update("current_step", next.Number).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		if err := mixers.SetCurrentStep(tx, op, mixerID, next.Number, 0); err != nil {
			return err
		}
		res.Opened, err = m.tracker.Open(tx, op, s.batch.ID, next)
		if err != nil {
			return err
		}
		res.Batch = s.batch
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	if res.Finished {
		res.Batch, err = m.reload(op, res.Closed.BatchID)
		if err != nil {
			return nil, err
		}
	}
	res.Movement = out.movement
	res.Alarms = out.alarms
	m.announce(out)

	zap.S().Infow("Step advanced",
		"mixer", mixerID,
		"batch", res.Batch.ID,
		"step", res.Closed.StepNumber,
		"duration", *res.Closed.ActualDuration,
		"ecart", res.Closed.Ecart,
	)
	m.events.Publish(events.Event{Type: events.BatchStepAdvanced, MixerID: mixerID, BatchID: res.Batch.ID, At: *res.Closed.EndedAt, Payload: res})
	if res.Finished {
		m.ended(res.Batch)
	}
	return res, nil
}

// MarkCriterion records that the completion criterion of the current step
// was satisfied by the operator or the automation.
func (m *Manager) MarkCriterion(ctx context.Context, mixerID uint, value, comment string) (*models.StepExecution, error) {
	const op = "batches.MarkCriterion"
	if _, err := auth.Require(ctx, op, auth.RoleOperator); err != nil {
		return nil, err
	}

	unlock, err := m.locks.Mixer(op, mixerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var s *session
	err = database.WithTx(m.db, func(tx *gorm.DB) error {
		var err error
		if s, err = m.session(tx, op, mixerID); err != nil {
			return err
		}
		return m.tracker.MarkCriterion(tx, op, s.step, s.exec, value, comment)
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	zap.S().Infow("Criterion met", "mixer", mixerID, "batch", s.batch.ID, "step", s.exec.StepNumber, "value", s.exec.CriterionValue)
	m.events.Publish(events.Event{Type: events.BatchCriterionMet, MixerID: mixerID, BatchID: s.batch.ID, At: m.tracker.Now(), Payload: s.exec})
	return s.exec, nil
}

// RecordMeasurement stores the measured quantity of the current step.
func (m *Manager) RecordMeasurement(ctx context.Context, mixerID uint, quantity float64) (*models.StepExecution, error) {
	const op = "batches.RecordMeasurement"
	if _, err := auth.Require(ctx, op, auth.RoleOperator); err != nil {
		return nil, err
	}

	unlock, err := m.locks.Mixer(op, mixerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var s *session
	err = database.WithTx(m.db, func(tx *gorm.DB) error {
		var err error
		if s, err = m.session(tx, op, mixerID); err != nil {
			return err
		}
		return m.tracker.Measure(tx, op, s.exec, quantity)
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return s.exec, nil
}

// EndInput selects the terminal status of EndBatch.
type EndInput struct {
	Outcome models.BatchStatus `json:"outcome"`
	Reason  string             `json:"reason"`
	Comment string             `json:"comment"`
}

// EndBatch terminates the running batch of a mixer.
//
// Completed closes the current step as completed (dosing included) and
// skips the remaining ones; a pending criterion blocks it like AdvanceStep. Error closes it in error. Aborted behaves like
// AbortBatch and requires a reason.
func (m *Manager) EndBatch(ctx context.Context, mixerID uint, in EndInput) (*models.Batch, error) {
	const op = "batches.EndBatch"
	p, err := auth.Require(ctx, op, auth.RoleOperator)
	if err != nil {
		return nil, err
	}

	var status models.ExecutionStatus
	switch in.Outcome {
	case models.BatchCompleted:
		status = models.ExecutionCompleted
	case models.BatchError:
		status = models.ExecutionError
	case models.BatchAborted:
		return m.AbortBatch(ctx, mixerID, in.Reason)
	default:
		return nil, apperr.Validation(op, "outcome must be Completed, Aborted or Error, got %q", in.Outcome)
	}
	comment := in.Comment
	if comment == "" {
		comment = in.Reason
	}
	return m.terminate(op, mixerID, p.Subject, in.Outcome, status, in.Reason, comment)
}

// AbortBatch cancels the running batch of a mixer at any point. The open
// step is closed as Interrupted with reason as its comment.
func (m *Manager) AbortBatch(ctx context.Context, mixerID uint, reason string) (*models.Batch, error) {
	const op = "batches.AbortBatch"
	p, err := auth.Require(ctx, op, auth.RoleOperator)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation(op, "an abort reason is required")
	}
	return m.terminate(op, mixerID, p.Subject, models.BatchAborted, models.ExecutionInterrupted, reason, reason)
}

func (m *Manager) terminate(op string, mixerID uint, actor string, final models.BatchStatus, status models.ExecutionStatus, reason, comment string) (*models.Batch, error) {
	unlock, err := m.locks.Mixer(op, mixerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		batchID uint
		out     outcome
	)
	err = database.WithTx(m.db, func(tx *gorm.DB) error {
		s, err := m.session(tx, op, mixerID)
		if err != nil {
			return err
		}
		batchID = s.batch.ID
		if status == models.ExecutionCompleted {
			if err := tracker.CheckEligible(op, s.step, s.exec); err != nil {
				return err
			}
			out, err = m.complete(tx, op, s, actor, comment)
		} else {
			out.closure, err = m.tracker.Close(tx, op, s.step, s.exec, status, comment)
		}
		if err != nil {
			return err
		}
		return m.finish(tx, op, s.batch, final, reason)
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	batch, err := m.reload(op, batchID)
	if err != nil {
		return nil, err
	}
	m.announce(out)
	m.ended(batch)
	return batch, nil
}

// session is the running batch of a mixer with its current step.
type session struct {
	batch *models.Batch
	steps []models.RecipeStep
	step  models.RecipeStep
	exec  *models.StepExecution
}

func (m *Manager) session(tx *gorm.DB, op string, mixerID uint) (*session, error) {
	mixer, err := mixers.Load(tx, op, mixerID)
	if err != nil {
		return nil, err
	}
	if mixer.ActiveBatchID == nil {
		return nil, apperr.Conflict(op, "mixer %d has no running batch", mixerID)
	}

	var batch models.Batch
	if err := database.Find(tx, op, &batch, *mixer.ActiveBatchID, "batch"); err != nil {
		return nil, err
	}
	if batch.Status != models.BatchRunning {
		return nil, apperr.Conflict(op, "batch %d is %s", batch.ID, batch.Status)
	}
	steps, err := batch.GetSteps()
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	if batch.CurrentStep < 1 || batch.CurrentStep > len(steps) {
		return nil, apperr.Conflict(op, "batch %d is positioned on unknown step %d", batch.ID, batch.CurrentStep)
	}
	exec, err := tracker.OpenExecution(tx, op, batch.ID)
	if err != nil {
		return nil, err
	}
	return &session{batch: &batch, steps: steps, step: steps[batch.CurrentStep-1], exec: exec}, nil
}

// complete closes the current step as completed and posts its dosing:
// distribution, inventory consumption and stock alarms.
func (m *Manager) complete(tx *gorm.DB, op string, s *session, actor, comment string) (outcome, error) {
	var out outcome
	closure, err := m.tracker.Close(tx, op, s.step, s.exec, models.ExecutionCompleted, comment)
	if err != nil {
		return out, err
	}
	out.closure = closure
	if !s.step.Doses() || closure.Execution.MeasuredQuantity == nil {
		return out, nil
	}

	dosed := *closure.Execution.MeasuredQuantity
	err = tx.Model(&models.BatchDistribution{}).
		Where("batch_id = ? AND product = ?", s.batch.ID, s.step.Product).
		Update("dosed", gorm.Expr("dosed + ?", dosed)).Error
	if err != nil {
		return out, apperr.Unavailable(op, err)
	}
	s.batch.DosedTotal += dosed
	if err := tx.Model(s.batch).Update("dosed_total", s.batch.DosedTotal).Error; err != nil {
		return out, apperr.Unavailable(op, err)
	}
	if dosed <= 0 {
		return out, nil
	}

	movement, err := m.ledger.ConsumeTx(tx, op, s.step.Product, dosed, &s.batch.ID, actor)
	if err != nil {
		return out, err
	}
	out.movement = movement

	item := movement.Item
	before := models.DeriveInventoryStatus(movement.Transaction.Before, item.MinThreshold, item.Capacity)
	var code, description string
	switch {
	case movement.Clamped():
		code = CodeStockShortage
		description = "consumption of " + item.Product + " exceeded available stock"
	case item.Status == models.StockCritical && before != models.StockCritical:
		code = CodeStockCritical
		description = item.Product + " stock fell to its minimum threshold"
	}
	if code != "" {
		alarm, err := m.alarms.RaiseTx(tx, op, s.batch.MixerID, &s.batch.ID, code, description, models.SeverityWarning)
		if err != nil {
			return out, err
		}
		out.alarms = append(out.alarms, *alarm)
	}
	return out, nil
}

// finish moves a batch to its terminal status and releases the mixer.
func (m *Manager) finish(tx *gorm.DB, op string, batch *models.Batch, status models.BatchStatus, reason string) error {
	now := m.tracker.Now()
	fields := map[string]interface{}{
		"status":       status,
		"completed_at": now,
		"reason":       reason,
	}
	if status == models.BatchCompleted {
		var deviated int64
		err := tx.Model(&models.BatchStep{}).Where("batch_id = ? AND ecart = ?", batch.ID, true).Count(&deviated).Error
		if err != nil {
			return apperr.Unavailable(op, err)
		}
		fields["verdict"] = models.BatchSuccess
		if deviated > 0 {
			fields["verdict"] = models.BatchAlert
		}
	}
	if err := tx.Model(batch).Updates(fields).Error; err != nil {
		return apperr.Unavailable(op, err)
	}

	if err := tracker.SkipPending(tx, op, batch.ID); err != nil {
		return err
	}
	err := tx.Model(&models.BatchDistribution{}).Where("batch_id = ?", batch.ID).
		Update("final_dose", gorm.Expr("dosed")).Error
	if err != nil {
		return apperr.Unavailable(op, err)
	}
	return mixers.ClearAssignment(tx, op, batch.MixerID)
}

func (m *Manager) reload(op string, id uint) (*models.Batch, error) {
	var batch models.Batch
	err := database.ReadRetry(func() error {
		return database.Find(m.db, op, &batch, id, "batch")
	})
	if err != nil {
		return nil, err
	}
	if _, err := batch.GetSteps(); err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return &batch, nil
}

func (m *Manager) announce(out outcome) {
	m.tracker.Record(out.closure)
	m.ledger.Announce(out.movement)
	for i := range out.alarms {
		m.alarms.AnnounceRaised(&out.alarms[i])
	}
}

func (m *Manager) ended(batch *models.Batch) {
	zap.S().Infow("Batch ended",
		"mixer", batch.MixerID,
		"batch", batch.ID,
		"status", batch.Status,
		"verdict", batch.Verdict,
		"reason", batch.Reason,
	)
	m.monitor.BatchFinished(mixers.Label(batch.MixerID), string(batch.Status))
	at := m.tracker.Now()
	if batch.CompletedAt != nil {
		at = *batch.CompletedAt
	}
	m.events.Publish(events.Event{Type: events.BatchEnded, MixerID: batch.MixerID, BatchID: batch.ID, At: at, Payload: batch})
}
