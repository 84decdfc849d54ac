package progress

import (
	"testing"
	"time"

	"mixerline/internal/models"
	"mixerline/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completed(number int, measured *float64, ecart bool) models.StepExecution {
	return models.StepExecution{StepNumber: number, Status: models.ExecutionCompleted, MeasuredQuantity: measured, Ecart: ecart}
}

func TestComputeMidBatch(t *testing.T) {
	steps := testutil.EightStepRecipe("P").Steps
	start := testutil.Epoch
	in := Input{
		Steps:       steps,
		CurrentStep: 4,
		Fraction:    50,
		Executions: []models.StepExecution{
			completed(1, nil, false),
			completed(2, testutil.Float(104), false),
			completed(3, nil, false),
			{StepNumber: 4, Status: models.ExecutionInProgress, StartedAt: start},
		},
		Now: start.Add(40 * time.Second),
	}

	r := Compute(in)
	assert.Equal(t, 8, r.TotalSteps)
	assert.Equal(t, 3, r.CompletedSteps)
	assert.Equal(t, 37.5, r.OverallProgress)
	assert.Equal(t, 150.0, r.TotalPlannedWeight)
	assert.Equal(t, 129.0, r.TotalDosedWeight, "104 dosed plus half of the 50 kg talc step")
	require.NotNil(t, r.GlobalDeviation)
	assert.InDelta(t, -14.0, *r.GlobalDeviation, 1e-9)
	assert.Equal(t, 3090, r.PlannedDuration)
	// 200 s left on step 4, then 120+900+300+600.
	assert.Equal(t, 2120.0, r.RemainingDuration)
}

func TestComputeFirstStep(t *testing.T) {
	steps := testutil.EightStepRecipe("P").Steps
	r := Compute(Input{Steps: steps, CurrentStep: 1})
	assert.Equal(t, 0, r.CompletedSteps)
	assert.Equal(t, 0.0, r.OverallProgress)
	assert.Equal(t, 0.0, r.TotalDosedWeight)
	assert.InDelta(t, -100.0, *r.GlobalDeviation, 1e-9)
	assert.Equal(t, 3090.0, r.RemainingDuration, "no open execution means the full plan remains")
}

func TestComputeFinished(t *testing.T) {
	steps := testutil.EightStepRecipe("P").Steps
	var execs []models.StepExecution
	for _, s := range steps {
		var q *float64
		if s.Doses() {
			q = testutil.Float(s.PlannedWeight())
		}
		execs = append(execs, completed(s.Number, q, false))
	}
	execs[3].MeasuredQuantity = testutil.Float(60)
	execs[3].Ecart = true

	r := Compute(Input{Steps: steps, CurrentStep: 8, Fraction: 80, Status: models.BatchCompleted, Executions: execs})
	assert.Equal(t, 100.0, r.OverallProgress)
	assert.Equal(t, 160.0, r.TotalDosedWeight, "fraction is ignored once finished")
	assert.InDelta(t, 160.0/150.0*100-100, *r.GlobalDeviation, 1e-9)
	assert.Equal(t, 0.0, r.RemainingDuration)
	assert.Equal(t, 1, r.DeviatedSteps)
}

func TestComputeWithoutPlannedWeight(t *testing.T) {
	steps := []models.RecipeStep{
		testutil.Step(1, models.FunctionStart, 10),
		testutil.Step(2, models.FunctionMix, 20),
	}
	r := Compute(Input{Steps: steps, CurrentStep: 2})
	assert.Nil(t, r.GlobalDeviation, "deviation is undefined without planned weight")
	assert.Equal(t, 50.0, r.OverallProgress)
}

func TestComputeAborted(t *testing.T) {
	steps := testutil.EightStepRecipe("P").Steps
	execs := []models.StepExecution{
		completed(1, nil, false),
		completed(2, testutil.Float(100), false),
		{StepNumber: 3, Status: models.ExecutionInterrupted},
	}
	r := Compute(Input{Steps: steps, CurrentStep: 3, Fraction: 60, Status: models.BatchAborted, Executions: execs})
	assert.Equal(t, 2, r.CompletedSteps)
	assert.Equal(t, 25.0, r.OverallProgress)
	assert.Equal(t, 100.0, r.TotalDosedWeight)
	assert.Equal(t, 0.0, r.RemainingDuration, "nothing remains once the batch is terminal")
}

func TestComputeIgnoresInterruptedMeasurements(t *testing.T) {
	steps := []models.RecipeStep{testutil.Dosing(1, "Resin", 100, 60)}
	execs := []models.StepExecution{{StepNumber: 1, Status: models.ExecutionInterrupted, MeasuredQuantity: testutil.Float(30)}}
	r := Compute(Input{Steps: steps, CurrentStep: 1, Executions: execs})
	assert.Equal(t, 0.0, r.TotalDosedWeight)
}
