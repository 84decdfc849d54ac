package batches

import (
	"context"
	"time"

	"mixerline/internal/apperr"
	"mixerline/internal/auth"
	"mixerline/internal/database"
	"mixerline/internal/mixers"
	"mixerline/internal/models"
	"mixerline/internal/progress"
	"mixerline/internal/tracker"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"
)

// ListFilter narrows a batch listing. Zero fields match everything.
type ListFilter struct {
	MixerID  uint
	RecipeID uint
	Status   models.BatchStatus
}

// Live is the operator view of a mixer's running batch.
type Live struct {
	Mixer     *models.Mixer         `json:"mixer"`
	Batch     *models.Batch         `json:"batch"`
	Step      *models.RecipeStep    `json:"step"`
	Execution *models.StepExecution `json:"execution"`
	Timing    tracker.Timing        `json:"timing"`
	Progress  progress.Report       `json:"progress"`
}

// Get returns a batch with its recipe snapshot.
func (m *Manager) Get(ctx context.Context, id uint) (*models.Batch, error) {
	const op = "batches.Get"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}
	return m.reload(op, id)
}

// List returns batches matching filter, most recent first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]models.Batch, error) {
	const op = "batches.List"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var list []models.Batch
	err := database.ReadRetry(func() error {
		list = nil
		q := m.db.Order("started_at desc, id desc")
		if filter.MixerID != 0 {
			q = q.Where("mixer_id = ?", filter.MixerID)
		}
		if filter.RecipeID != 0 {
			q = q.Where("recipe_id = ?", filter.RecipeID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if err := q.Find(&list).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	return list, err
}

// Active returns the running batch of a mixer.
func (m *Manager) Active(ctx context.Context, mixerID uint) (*models.Batch, error) {
	const op = "batches.Active"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var batch *models.Batch
	err := database.ReadRetry(func() error {
		var err error
		batch, err = active(m.db, op, mixerID)
		return err
	})
	return batch, err
}

func active(db *gorm.DB, op string, mixerID uint) (*models.Batch, error) {
	mixer, err := mixers.Load(db, op, mixerID)
	if err != nil {
		return nil, err
	}
	if mixer.ActiveBatchID == nil {
		return nil, apperr.NotFound(op, "mixer %d has no running batch", mixerID)
	}
	var batch models.Batch
	if err := database.Find(db, op, &batch, *mixer.ActiveBatchID, "batch"); err != nil {
		return nil, err
	}
	if _, err := batch.GetSteps(); err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return &batch, nil
}

// Live returns the running batch of a mixer with the timing of its current
// step and its progress. Everything is derived from stored timestamps at the
// time of the call.
func (m *Manager) Live(ctx context.Context, mixerID uint) (*Live, error) {
	const op = "batches.Live"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var live *Live
	err := database.ReadRetry(func() error {
		// One transaction gives the mixer, batch and executions a consistent snapshot.
		return database.WithTx(m.db, func(tx *gorm.DB) error {
			mixer, err := mixers.Load(tx, op, mixerID)
			if err != nil {
				return err
			}
			batch, err := active(tx, op, mixerID)
			if err != nil {
				return err
			}
			execs, err := tracker.Executions(tx, op, batch.ID)
			if err != nil {
				return err
			}

			now := m.tracker.Now()
			live = &Live{
				Mixer:    mixer,
				Batch:    batch,
				Progress: report(batch, mixer, execs, now),
			}
			if batch.CurrentStep >= 1 && batch.CurrentStep <= len(batch.Steps) {
				step := batch.Steps[batch.CurrentStep-1]
				live.Step = &step
			}
			for i := range execs {
				if execs[i].Status == models.ExecutionInProgress {
					live.Execution = &execs[i]
				}
			}
			if live.Step != nil && live.Execution != nil {
				live.Timing = tracker.Time(*live.Step, *live.Execution, now)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return live, nil
}

// Progress recomputes the progress report of any batch from its stored records.
func (m *Manager) Progress(ctx context.Context, batchID uint) (*progress.Report, error) {
	const op = "batches.Progress"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var r progress.Report
	err := database.ReadRetry(func() error {
		return database.WithTx(m.db, func(tx *gorm.DB) error {
			var batch models.Batch
			if err := database.Find(tx, op, &batch, batchID, "batch"); err != nil {
				return err
			}
			if _, err := batch.GetSteps(); err != nil {
				return apperr.Unavailable(op, err)
			}
			execs, err := tracker.Executions(tx, op, batch.ID)
			if err != nil {
				return err
			}
			var mixer *models.Mixer
			if batch.Status == models.BatchRunning {
				if mixer, err = mixers.Load(tx, op, batch.MixerID); err != nil {
					return err
				}
			}
			r = report(&batch, mixer, execs, m.tracker.Now())
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return &r, nil
}

// report feeds the calculator. The live step fraction only counts while
// the mixer is still bound to the batch.
func report(batch *models.Batch, mixer *models.Mixer, execs []models.StepExecution, now time.Time) progress.Report {
	in := progress.Input{
		Steps:       batch.Steps,
		CurrentStep: batch.CurrentStep,
		Status:      batch.Status,
		Executions:  execs,
		Now:         now,
	}
	if mixer != nil && mixer.ActiveBatchID != nil && *mixer.ActiveBatchID == batch.ID {
		in.Fraction = mixer.StepFraction
	}
	return progress.Compute(in)
}

// StepExecutions lists the executions of a batch.
func (m *Manager) StepExecutions(ctx context.Context, batchID uint) ([]models.StepExecution, error) {
	const op = "batches.StepExecutions"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var list []models.StepExecution
	err := database.ReadRetry(func() error {
		if err := m.exists(op, batchID); err != nil {
			return err
		}
		var err error
		list, err = tracker.Executions(m.db, op, batchID)
		return err
	})
	return list, err
}

// StepExecution returns one execution record.
func (m *Manager) StepExecution(ctx context.Context, id uint) (*models.StepExecution, error) {
	const op = "batches.StepExecution"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var exec models.StepExecution
	err := database.ReadRetry(func() error {
		return database.Find(m.db, op, &exec, id, "step execution")
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// Steps lists the coarse planned-versus-actual rows of a batch.
func (m *Manager) Steps(ctx context.Context, batchID uint) ([]models.BatchStep, error) {
	const op = "batches.Steps"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var list []models.BatchStep
	err := database.ReadRetry(func() error {
		if err := m.exists(op, batchID); err != nil {
			return err
		}
		var err error
		list, err = tracker.Steps(m.db, op, batchID)
		return err
	})
	return list, err
}

// Distributions lists the per-product dosing totals of a batch.
func (m *Manager) Distributions(ctx context.Context, batchID uint) ([]models.BatchDistribution, error) {
	const op = "batches.Distributions"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var list []models.BatchDistribution
	err := database.ReadRetry(func() error {
		if err := m.exists(op, batchID); err != nil {
			return err
		}
		list = nil
		if err := m.db.Where("batch_id = ?", batchID).Order("id asc").Find(&list).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	return list, err
}

// Delete removes a terminal batch with its steps, executions and
// distributions. Inventory transactions and alarms are kept for audit.
func (m *Manager) Delete(ctx context.Context, id uint) error {
	const op = "batches.Delete"
	if _, err := auth.Require(ctx, op, auth.RoleSupervisor); err != nil {
		return err
	}

	err := database.WithTx(m.db, func(tx *gorm.DB) error {
		var batch models.Batch
		if err := database.Find(tx, op, &batch, id, "batch"); err != nil {
			return err
		}
		if !batch.Status.Terminal() {
			return apperr.Conflict(op, "batch %d is still %s", id, batch.Status)
		}
		for _, owned := range []interface{}{&models.StepExecution{}, &models.BatchStep{}, &models.BatchDistribution{}} {
			if err := tx.Where("batch_id = ?", id).Delete(owned).Error; err != nil {
				return apperr.Unavailable(op, err)
			}
		}
		if err := tx.Delete(&batch).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return apperr.Unavailable(op, err)
	}

	zap.S().Infow("Batch deleted", "batch", id)
	return nil
}

func (m *Manager) exists(op string, batchID uint) error {
	var count int64
	if err := m.db.Model(&models.Batch{}).Where("id = ?", batchID).Count(&count).Error; err != nil {
		return apperr.Unavailable(op, err)
	}
	if count == 0 {
		return apperr.NotFound(op, "batch %d not found", batchID)
	}
	return nil
}
