package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveInventoryStatus(t *testing.T) {
	tests := []struct {
		quantity float64
		want     InventoryStatus
	}{
		{50, StockCritical},
		{100, StockCritical},
		{200, StockLow},
		{250, StockLow},
		{251, StockNormal},
		{800, StockNormal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveInventoryStatus(tt.quantity, 100, 1000), "quantity %v", tt.quantity)
	}
}

func TestDeriveMixerStatus(t *testing.T) {
	assert.Equal(t, MixerStopped, DeriveMixerStatus(false, false))
	assert.Equal(t, MixerRunning, DeriveMixerStatus(true, false))
	assert.Equal(t, MixerAlarm, DeriveMixerStatus(true, true))
	assert.Equal(t, MixerAlarm, DeriveMixerStatus(false, true))
}

func TestStepExecutionClose(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	exec := StepExecution{StartedAt: start, Status: ExecutionInProgress}

	require.NoError(t, exec.Close(start.Add(90*time.Second), ExecutionCompleted))
	assert.Equal(t, ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.ActualDuration)
	assert.Equal(t, 90.0, *exec.ActualDuration)

	assert.ErrorIs(t, exec.Close(start.Add(time.Hour), ExecutionInterrupted), ErrExecutionClosed)
}

func TestBatchStepsSnapshot(t *testing.T) {
	weight := 12.5
	steps := []RecipeStep{
		{Number: 1, Function: FunctionStart, ArmMode: ModeLowSpeed, ScrewMode: ModeLowSpeed},
		{Number: 2, Function: FunctionAutomaticDosing, Product: "Resin", Weight: &weight, Criterion: "scale stable"},
	}

	var b Batch
	require.NoError(t, b.SetSteps(steps))

	reloaded := Batch{StepsJSON: b.StepsJSON}
	got, err := reloaded.GetSteps()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Doses())
	assert.True(t, got[1].HasCriterion())
	assert.False(t, got[0].Doses())
	assert.Equal(t, 12.5, got[1].PlannedWeight())
}
