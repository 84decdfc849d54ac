// Package alarms raises and acknowledges alarms and keeps mixer status in
// step with active critical alarms.
package alarms

import (
	"context"

	"mixerline/internal/apperr"
	"mixerline/internal/auth"
	"mixerline/internal/clock"
	"mixerline/internal/database"
	"mixerline/internal/events"
	"mixerline/internal/locks"
	"mixerline/internal/mixers"
	"mixerline/internal/models"
	"mixerline/internal/monitoring"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"
)

// Correlator manages alarms.
type Correlator struct {
	db      *gorm.DB
	locks   *locks.Locker
	clock   clock.Clock
	monitor *monitoring.Monitor
	events  events.Publisher
}

// New creates a correlator. monitor may be nil.
func New(db *gorm.DB, locker *locks.Locker, clk clock.Clock, monitor *monitoring.Monitor, publisher events.Publisher) *Correlator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Correlator{db: db, locks: locker, clock: clk, monitor: monitor, events: publisher}
}

// Raise creates an active alarm on a mixer, attached to its running batch if any.
// A critical alarm forces the mixer into Alarm status.
func (c *Correlator) Raise(ctx context.Context, mixerID uint, code, description string, severity models.AlarmSeverity) (*models.Alarm, error) {
	const op = "alarms.Raise"
	if _, err := auth.Require(ctx, op, auth.RoleOperator); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, apperr.Validation(op, "alarm code is required")
	}
	if !severity.Valid() {
		return nil, apperr.Validation(op, "unknown severity %q", severity)
	}

	unlock, err := c.locks.Mixer(op, mixerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var alarm *models.Alarm
	err = database.WithTx(c.db, func(tx *gorm.DB) error {
		mixer, err := mixers.Load(tx, op, mixerID)
		if err != nil {
			return err
		}
		alarm, err = c.RaiseTx(tx, op, mixer.ID, mixer.ActiveBatchID, code, description, severity)
		return err
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	c.AnnounceRaised(alarm)
	return alarm, nil
}

// RaiseTx creates an alarm inside tx. The caller holds the mixer lock and
// calls AnnounceRaised after commit.
func (c *Correlator) RaiseTx(tx *gorm.DB, op string, mixerID uint, batchID *uint, code, description string, severity models.AlarmSeverity) (*models.Alarm, error) {
	alarm := models.Alarm{
		MixerID:     mixerID,
		BatchID:     batchID,
		Code:        code,
		Description: description,
		Severity:    severity,
		Status:      models.AlarmActive,
		OccurredAt:  c.clock.Now(),
	}
	if err := tx.Create(&alarm).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	if severity == models.SeverityCritical {
		if _, err := mixers.RefreshStatus(tx, op, mixerID); err != nil {
			return nil, err
		}
	}
	return &alarm, nil
}

// AnnounceRaised publishes a committed alarm.
func (c *Correlator) AnnounceRaised(alarm *models.Alarm) {
	zap.S().Warnw("Alarm raised",
		"alarm", alarm.ID,
		"mixer", alarm.MixerID,
		"code", alarm.Code,
		"severity", alarm.Severity,
	)
	c.monitor.AlarmRaised(mixers.Label(alarm.MixerID), string(alarm.Severity))
	c.events.Publish(events.Event{Type: events.AlarmRaised, MixerID: alarm.MixerID, At: alarm.OccurredAt, Payload: alarm})
}

// Acknowledge marks an active alarm acknowledged. When no other active
// critical alarm remains on the mixer its status reverts to what its batch
// state implies.
func (c *Correlator) Acknowledge(ctx context.Context, id uint) (*models.Alarm, error) {
	const op = "alarms.Acknowledge"
	p, err := auth.Require(ctx, op, auth.RoleOperator)
	if err != nil {
		return nil, err
	}
	return c.acknowledge(op, id, p.Subject)
}

func (c *Correlator) acknowledge(op string, id uint, actor string) (*models.Alarm, error) {
	var probe models.Alarm
	if err := database.Find(c.db, op, &probe, id, "alarm"); err != nil {
		return nil, err
	}

	unlock, err := c.locks.Mixer(op, probe.MixerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var alarm models.Alarm
	err = database.WithTx(c.db, func(tx *gorm.DB) error {
		if err := database.Find(tx, op, &alarm, id, "alarm"); err != nil {
			return err
		}
		if alarm.Status != models.AlarmActive {
			return apperr.Conflict(op, "alarm %d is already acknowledged", id)
		}
		now := c.clock.Now()
		alarm.Status = models.AlarmAcknowledged
		alarm.AcknowledgedAt = &now
		alarm.AcknowledgedBy = actor
		err := tx.Model(&alarm).Updates(map[string]interface{}{
			"status":          alarm.Status,
			"acknowledged_at": now,
			"acknowledged_by": actor,
		}).Error
		if err != nil {
			return apperr.Unavailable(op, err)
		}
		_, err = mixers.RefreshStatus(tx, op, alarm.MixerID)
		return err
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	zap.S().Infow("Alarm acknowledged", "alarm", id, "mixer", alarm.MixerID, "by", actor)
	c.monitor.AlarmCleared(mixers.Label(alarm.MixerID), string(alarm.Severity))
	c.events.Publish(events.Event{Type: events.AlarmAcknowledged, MixerID: alarm.MixerID, At: *alarm.AcknowledgedAt, Payload: alarm})
	return &alarm, nil
}

// AckFilter selects alarms for a bulk acknowledgement. Explicit ids win over
// the mixer filter; with neither, every active alarm is selected.
type AckFilter struct {
	MixerID *uint  `json:"mixerId"`
	IDs     []uint `json:"ids"`
}

// AckFailure reports an alarm that could not be acknowledged.
type AckFailure struct {
	ID    uint        `json:"id"`
	Kind  apperr.Kind `json:"kind"`
	Error string      `json:"error"`
}

// AckReport is the outcome of a bulk acknowledgement.
type AckReport struct {
	Acknowledged []uint       `json:"acknowledged"`
	Failed       []AckFailure `json:"failed"`
}

// AcknowledgeAll acknowledges each selected alarm in its own transaction.
// A failure on one alarm is reported and does not stop the others.
func (c *Correlator) AcknowledgeAll(ctx context.Context, filter AckFilter) (*AckReport, error) {
	const op = "alarms.AcknowledgeAll"
	p, err := auth.Require(ctx, op, auth.RoleOperator)
	if err != nil {
		return nil, err
	}

	ids := filter.IDs
	if len(ids) == 0 {
		q := c.db.Model(&models.Alarm{}).Where("status = ?", models.AlarmActive)
		if filter.MixerID != nil {
			q = q.Where("mixer_id = ?", *filter.MixerID)
		}
		if err := q.Order("id asc").Pluck("id", &ids).Error; err != nil {
			return nil, apperr.Unavailable(op, err)
		}
	}

	report := &AckReport{Acknowledged: []uint{}, Failed: []AckFailure{}}
	for _, id := range ids {
		if _, err := c.acknowledge(op, id, p.Subject); err != nil {
			report.Failed = append(report.Failed, AckFailure{ID: id, Kind: apperr.KindOf(err), Error: err.Error()})
			continue
		}
		report.Acknowledged = append(report.Acknowledged, id)
	}

	if len(report.Failed) > 0 {
		zap.S().Warnw("Bulk acknowledgement finished with failures",
			"acknowledged", len(report.Acknowledged),
			"failed", len(report.Failed),
		)
	}
	return report, nil
}

// Get returns an alarm.
func (c *Correlator) Get(ctx context.Context, id uint) (*models.Alarm, error) {
	const op = "alarms.Get"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var alarm models.Alarm
	err := database.ReadRetry(func() error {
		return database.Find(c.db, op, &alarm, id, "alarm")
	})
	if err != nil {
		return nil, err
	}
	return &alarm, nil
}

// ListFilter narrows an alarm listing. Zero fields match everything.
type ListFilter struct {
	MixerID  uint
	BatchID  uint
	Status   models.AlarmStatus
	Severity models.AlarmSeverity
}

// List returns alarms matching filter, newest first.
func (c *Correlator) List(ctx context.Context, filter ListFilter) ([]models.Alarm, error) {
	const op = "alarms.List"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var list []models.Alarm
	err := database.ReadRetry(func() error {
		list = nil
		q := c.db.Order("occurred_at desc, id desc")
		if filter.MixerID != 0 {
			q = q.Where("mixer_id = ?", filter.MixerID)
		}
		if filter.BatchID != 0 {
			q = q.Where("batch_id = ?", filter.BatchID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.Severity != "" {
			q = q.Where("severity = ?", filter.Severity)
		}
		if err := q.Find(&list).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	return list, err
}
