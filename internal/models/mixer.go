package models

import "time"

// Mixer represents a physical production unit and its live state
type Mixer struct {
	ID            uint        `gorm:"primary_key" json:"id"`
	Name          string      `json:"name"`
	Status        MixerStatus `json:"status"`
	RecipeID      *uint       `json:"recipeId"`
	ActiveBatchID *uint       `json:"activeBatchId"`
	CurrentStep   *int        `json:"currentStep"`
	StepFraction  float64     `json:"stepFraction"` // 0-100
	Temperature   float64     `json:"temperature"`
	Pressure      float64     `json:"pressure"`
	Speed         float64     `json:"speed"`
	Power         float64     `json:"power"`
	ArmMotor      MotorStatus `json:"armMotor"`
	ScrewMotor    MotorStatus `json:"screwMotor"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// TableName sets the table name for Mixer
func (Mixer) TableName() string {
	return "mixers"
}

// MixerStatus represents the operating status of a mixer
type MixerStatus string

const (
	MixerStopped MixerStatus = "Stopped"
	MixerRunning MixerStatus = "Running"
	MixerPaused  MixerStatus = "Paused"
	MixerAlarm   MixerStatus = "Alarm"
)

// MotorStatus represents the state of the arm or screw motor
type MotorStatus string

const (
	MotorStopped     MotorStatus = "Stopped"
	MotorRunning     MotorStatus = "Running"
	MotorFault       MotorStatus = "Fault"
	MotorMaintenance MotorStatus = "Maintenance"
)

// Valid reports whether s is a known motor status
func (s MotorStatus) Valid() bool {
	switch s {
	case MotorStopped, MotorRunning, MotorFault, MotorMaintenance:
		return true
	}
	return false
}

// DeriveMixerStatus computes the status implied by batch and alarm state.
// An active critical alarm wins over a running batch.
func DeriveMixerStatus(hasActiveBatch, hasCriticalAlarm bool) MixerStatus {
	switch {
	case hasCriticalAlarm:
		return MixerAlarm
	case hasActiveBatch:
		return MixerRunning
	default:
		return MixerStopped
	}
}
