package models

import (
	"encoding/json"
	"time"
)

// StepFunction is the operation a recipe step performs on the mixer
type StepFunction string

const (
	FunctionStart              StepFunction = "Start"
	FunctionAutomaticDosing    StepFunction = "AutomaticDosing"
	FunctionManualIntroduction StepFunction = "ManualIntroduction"
	FunctionMix                StepFunction = "Mix"
	FunctionVacuumPrep         StepFunction = "VacuumPrep"
	FunctionVacuumHold         StepFunction = "VacuumHold"
	FunctionExtrusion          StepFunction = "Extrusion"
)

// MotorMode is the operating speed of the arm or screw motor during a step
type MotorMode string

const (
	ModeHighSpeed MotorMode = "HighSpeed"
	ModeLowSpeed  MotorMode = "LowSpeed"
)

// Recipe represents an ordered production procedure
type Recipe struct {
	ID          uint         `gorm:"primary_key" json:"id"`
	Name        string       `gorm:"not null;index" json:"name" validate:"required,max=120"`
	Description string       `json:"description"`
	Active      bool         `json:"active"`
	Steps       []RecipeStep `gorm:"foreignkey:RecipeID" json:"steps" validate:"required,min=1,dive"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// TableName sets the table name for Recipe
func (Recipe) TableName() string {
	return "recipes"
}

// RecipeStep represents a single operation in a recipe
type RecipeStep struct {
	ID           uint         `gorm:"primary_key" json:"id"`
	RecipeID     uint         `gorm:"index" json:"recipeId"`
	Number       int          `json:"number" validate:"gte=1"`
	Function     StepFunction `json:"function" validate:"oneof=Start AutomaticDosing ManualIntroduction Mix VacuumPrep VacuumHold Extrusion"`
	ArmMode      MotorMode    `json:"armMode" validate:"oneof=HighSpeed LowSpeed"`
	ScrewMode    MotorMode    `json:"screwMode" validate:"oneof=HighSpeed LowSpeed"`
	Duration     int          `json:"duration" validate:"gte=0"` // seconds
	Product      string       `json:"product,omitempty"`
	Weight       *float64     `json:"weight,omitempty" validate:"omitempty,gte=0"` // kg
	VacuumTarget *float64     `json:"vacuumTarget,omitempty" validate:"omitempty,gte=0,lte=100"`
	Criterion    string       `json:"criterion,omitempty"`
	Reversible   bool         `json:"reversible"`
}

// TableName sets the table name for RecipeStep
func (RecipeStep) TableName() string {
	return "recipe_steps"
}

// PlannedWeight returns the planned weight, zero when the step doses nothing
func (s RecipeStep) PlannedWeight() float64 {
	if s.Weight == nil {
		return 0
	}
	return *s.Weight
}

// Doses reports whether completing the step consumes inventory
func (s RecipeStep) Doses() bool {
	return s.Product != "" && s.PlannedWeight() > 0
}

// HasCriterion reports whether advancing past the step needs an external acknowledgement
func (s RecipeStep) HasCriterion() bool {
	return s.Criterion != ""
}

// EncodeSteps serializes a step list for a batch snapshot
func EncodeSteps(steps []RecipeStep) (string, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSteps deserializes a batch snapshot
func DecodeSteps(raw string) ([]RecipeStep, error) {
	var steps []RecipeStep
	if raw == "" {
		return steps, nil
	}
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, err
	}
	return steps, nil
}
