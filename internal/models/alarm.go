package models

import "time"

// Alarm is a condition raised on a mixer. Alarms outlive the batches they were raised in.
type Alarm struct {
	ID             uint          `gorm:"primary_key" json:"id"`
	MixerID        uint          `gorm:"index" json:"mixerId"`
	BatchID        *uint         `gorm:"index" json:"batchId"`
	Code           string        `json:"code"`
	Description    string        `json:"description"`
	Severity       AlarmSeverity `json:"severity"`
	Status         AlarmStatus   `gorm:"index" json:"status"`
	OccurredAt     time.Time     `json:"occurredAt"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt"`
	AcknowledgedBy string        `json:"acknowledgedBy,omitempty"`
}

// TableName sets the table name for Alarm
func (Alarm) TableName() string {
	return "alarms"
}

// AlarmSeverity represents how serious an alarm is
type AlarmSeverity string

const (
	SeverityInfo     AlarmSeverity = "Info"
	SeverityWarning  AlarmSeverity = "Warning"
	SeverityCritical AlarmSeverity = "Critical"
)

// Valid reports whether s is a known severity
func (s AlarmSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// AlarmStatus represents the acknowledgement state of an alarm
type AlarmStatus string

const (
	AlarmActive       AlarmStatus = "Active"
	AlarmAcknowledged AlarmStatus = "Acknowledged"
)
