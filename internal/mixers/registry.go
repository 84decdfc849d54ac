// Package mixers owns the live state of each mixer.
//
// Only the batch session manager and the alarm correlator change a mixer's
// assignment and status. They do so through the transaction-scoped functions
// of this package while holding the mixer lock.
package mixers

import (
	"context"
	"strconv"

	"mixerline/internal/apperr"
	"mixerline/internal/auth"
	"mixerline/internal/database"
	"mixerline/internal/events"
	"mixerline/internal/locks"
	"mixerline/internal/models"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"
)

// Registry serves mixer reads and externally supplied live fields.
type Registry struct {
	db     *gorm.DB
	locks  *locks.Locker
	events events.Publisher
}

// New creates a registry.
func New(db *gorm.DB, locker *locks.Locker, publisher events.Publisher) *Registry {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Registry{db: db, locks: locker, events: publisher}
}

// Get returns a mixer.
func (r *Registry) Get(ctx context.Context, id uint) (*models.Mixer, error) {
	const op = "mixers.Get"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var mixer *models.Mixer
	err := database.ReadRetry(func() error {
		var err error
		mixer, err = Load(r.db, op, id)
		return err
	})
	return mixer, err
}

// List returns every mixer ordered by id.
func (r *Registry) List(ctx context.Context) ([]models.Mixer, error) {
	const op = "mixers.List"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var list []models.Mixer
	err := database.ReadRetry(func() error {
		list = nil
		if err := r.db.Order("id asc").Find(&list).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	return list, err
}

// LiveUpdate carries telemetry and motor states reported by the plant.
// Nil fields are left unchanged.
type LiveUpdate struct {
	Temperature  *float64            `json:"temperature"`
	Pressure     *float64            `json:"pressure"`
	Speed        *float64            `json:"speed"`
	Power        *float64            `json:"power"`
	ArmMotor     *models.MotorStatus `json:"armMotor"`
	ScrewMotor   *models.MotorStatus `json:"screwMotor"`
	StepFraction *float64            `json:"stepFraction"`
}

// UpdateLive stores externally supplied live fields. The step completion
// fraction is only accepted while a batch is running.
func (r *Registry) UpdateLive(ctx context.Context, id uint, u LiveUpdate) (*models.Mixer, error) {
	const op = "mixers.UpdateLive"
	if _, err := auth.Require(ctx, op, auth.RoleOperator); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	set := func(column string, v *float64) {
		if v != nil {
			fields[column] = *v
		}
	}
	set("temperature", u.Temperature)
	set("pressure", u.Pressure)
	set("speed", u.Speed)
	set("power", u.Power)
	for column, status := range map[string]*models.MotorStatus{"arm_motor": u.ArmMotor, "screw_motor": u.ScrewMotor} {
		if status == nil {
			continue
		}
		if !status.Valid() {
			return nil, apperr.Validation(op, "unknown motor status %q", *status)
		}
		fields[column] = *status
	}
	if u.StepFraction != nil {
		if *u.StepFraction < 0 || *u.StepFraction > 100 {
			return nil, apperr.Validation(op, "step fraction must be within 0..100, got %.2f", *u.StepFraction)
		}
		fields["step_fraction"] = *u.StepFraction
	}

	unlock, err := r.locks.Mixer(op, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var mixer *models.Mixer
	err = database.WithTx(r.db, func(tx *gorm.DB) error {
		var err error
		mixer, err = Load(tx, op, id)
		if err != nil {
			return err
		}
		if u.StepFraction != nil && mixer.ActiveBatchID == nil {
			return apperr.Conflict(op, "mixer %d has no running batch", id)
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(mixer).Updates(fields).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		mixer, err = Load(tx, op, id)
		return err
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	r.events.Publish(events.Event{Type: events.MixerUpdated, MixerID: id, Payload: mixer})
	return mixer, nil
}

// Load reads a mixer from db, which may be a transaction.
func Load(db *gorm.DB, op string, id uint) (*models.Mixer, error) {
	var mixer models.Mixer
	if err := database.Find(db, op, &mixer, id, "mixer"); err != nil {
		return nil, err
	}
	return &mixer, nil
}

// AssignRecipe binds a running batch and its recipe to the mixer, positions it
// on step 1 and refreshes its status.
func AssignRecipe(tx *gorm.DB, op string, mixerID, recipeID, batchID uint) error {
	step := 1
	err := tx.Model(&models.Mixer{ID: mixerID}).Updates(map[string]interface{}{
		"recipe_id":       recipeID,
		"active_batch_id": batchID,
		"current_step":    step,
		"step_fraction":   0,
	}).Error
	if err != nil {
		return apperr.Unavailable(op, err)
	}
	_, err = RefreshStatus(tx, op, mixerID)
	return err
}

// SetCurrentStep moves the mixer to a step with the given completion fraction.
func SetCurrentStep(tx *gorm.DB, op string, mixerID uint, step int, fraction float64) error {
	err := tx.Model(&models.Mixer{ID: mixerID}).Updates(map[string]interface{}{
		"current_step":  step,
		"step_fraction": fraction,
	}).Error
	if err != nil {
		return apperr.Unavailable(op, err)
	}
	return nil
}

// ClearAssignment releases the mixer from its batch and refreshes its status.
func ClearAssignment(tx *gorm.DB, op string, mixerID uint) error {
	err := tx.Model(&models.Mixer{ID: mixerID}).Updates(map[string]interface{}{
		"recipe_id":       gorm.Expr("NULL"),
		"active_batch_id": gorm.Expr("NULL"),
		"current_step":    gorm.Expr("NULL"),
		"step_fraction":   0,
	}).Error
	if err != nil {
		return apperr.Unavailable(op, err)
	}
	_, err = RefreshStatus(tx, op, mixerID)
	return err
}

// RefreshStatus recomputes and stores the status implied by the active batch
// and the active critical alarms of the mixer.
func RefreshStatus(tx *gorm.DB, op string, mixerID uint) (models.MixerStatus, error) {
	mixer, err := Load(tx, op, mixerID)
	if err != nil {
		return "", err
	}

	var critical int64
	err = tx.Model(&models.Alarm{}).
		Where("mixer_id = ? AND status = ? AND severity = ?", mixerID, models.AlarmActive, models.SeverityCritical).
		Count(&critical).Error
	if err != nil {
		return "", apperr.Unavailable(op, err)
	}

	status := models.DeriveMixerStatus(mixer.ActiveBatchID != nil, critical > 0)
	if status == mixer.Status {
		return status, nil
	}
	if err := tx.Model(mixer).Update("status", status).Error; err != nil {
		return "", apperr.Unavailable(op, err)
	}
	zap.S().Infow("Mixer status changed", "mixer", mixerID, "from", mixer.Status, "to", status)
	return status, nil
}

// Label formats a mixer id for metric labels.
func Label(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
