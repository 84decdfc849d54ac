package catalog

import (
	"testing"

	"mixerline/internal/apperr"
	"mixerline/internal/auth"
	"mixerline/internal/models"
	"mixerline/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	db := testutil.OpenDB(t, 1)
	c := New(db)
	ctx := testutil.Ctx(auth.RoleSupervisor)

	r := testutil.EightStepRecipe("PVC compound")
	// Steps may arrive out of order.
	r.Steps[0], r.Steps[7] = r.Steps[7], r.Steps[0]

	created, err := c.Create(ctx, r)
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := c.Get(testutil.Ctx(auth.RoleViewer), created.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 8)
	for i, step := range got.Steps {
		assert.Equal(t, i+1, step.Number)
		assert.Equal(t, created.ID, step.RecipeID)
	}
	assert.Equal(t, "Resin", got.Steps[1].Product)
}

func TestCreateRejectsNonDenseSteps(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))
	ctx := testutil.Admin()

	tests := []struct {
		name  string
		steps []models.RecipeStep
	}{
		{"gap", []models.RecipeStep{testutil.Step(1, models.FunctionStart, 0), testutil.Step(3, models.FunctionMix, 10)}},
		{"duplicate", []models.RecipeStep{testutil.Step(1, models.FunctionStart, 0), testutil.Step(1, models.FunctionMix, 10)}},
		{"zero based", []models.RecipeStep{testutil.Step(0, models.FunctionStart, 0), testutil.Step(1, models.FunctionMix, 10)}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(ctx, testutil.Recipe("R-"+tt.name, tt.steps...))
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
}

func TestCreateRejectsInvalidFields(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))
	ctx := testutil.Admin()

	negative := testutil.Step(1, models.FunctionMix, -5)
	_, err := c.Create(ctx, testutil.Recipe("negative duration", negative))
	assert.True(t, apperr.IsValidation(err))

	weight := testutil.Dosing(1, "Resin", -1, 10)
	_, err = c.Create(ctx, testutil.Recipe("negative weight", weight))
	assert.True(t, apperr.IsValidation(err))

	unknown := testutil.Step(1, models.StepFunction("Bake"), 10)
	_, err = c.Create(ctx, testutil.Recipe("unknown function", unknown))
	assert.True(t, apperr.IsValidation(err))

	orphan := testutil.Step(1, models.FunctionMix, 10)
	orphan.Weight = testutil.Float(3)
	_, err = c.Create(ctx, testutil.Recipe("weight without product", orphan))
	assert.True(t, apperr.IsValidation(err))
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))
	ctx := testutil.Admin()

	_, err := c.Create(ctx, testutil.EightStepRecipe("Base"))
	require.NoError(t, err)

	_, err = c.Create(ctx, testutil.EightStepRecipe("Base"))
	assert.True(t, apperr.IsConflict(err))
}

func TestCreateRequiresSupervisor(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))

	_, err := c.Create(testutil.Ctx(auth.RoleOperator), testutil.EightStepRecipe("Base"))
	assert.True(t, apperr.IsForbidden(err))
}

func TestUpdateReplacesSteps(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))
	ctx := testutil.Admin()

	created, err := c.Create(ctx, testutil.EightStepRecipe("Base"))
	require.NoError(t, err)

	// Prime the cache so the update has to invalidate it.
	_, err = c.Get(ctx, created.ID)
	require.NoError(t, err)

	replacement := testutil.Recipe("Base v2",
		testutil.Step(1, models.FunctionStart, 10),
		testutil.Dosing(2, "Oil", 20, 60),
	)
	updated, err := c.Update(ctx, created.ID, replacement)
	require.NoError(t, err)
	assert.Equal(t, "Base v2", updated.Name)

	got, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Base v2", got.Name)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "Oil", got.Steps[1].Product)
}

func TestReadOverlappingUpdateIsNotCached(t *testing.T) {
	db := testutil.OpenDB(t, 1)
	c := New(db)
	ctx := testutil.Admin()

	created, err := c.Create(ctx, testutil.EightStepRecipe("Base"))
	require.NoError(t, err)

	// A reader loads the old row, then the update commits before it caches.
	gen := c.generation()
	stale, err := Load(db, "test", created.ID)
	require.NoError(t, err)

	_, err = c.Update(ctx, created.ID, testutil.Recipe("Base v2", testutil.Step(1, models.FunctionMix, 30)))
	require.NoError(t, err)
	assert.False(t, c.store(created.ID, gen, *stale))

	got, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Base v2", got.Name)
	require.Len(t, got.Steps, 1)

	assert.True(t, c.store(created.ID, c.generation(), *got))
}

func TestUpdateRenameConflict(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))
	ctx := testutil.Admin()

	_, err := c.Create(ctx, testutil.EightStepRecipe("A"))
	require.NoError(t, err)
	b, err := c.Create(ctx, testutil.EightStepRecipe("B"))
	require.NoError(t, err)

	_, err = c.Update(ctx, b.ID, testutil.EightStepRecipe("A"))
	assert.True(t, apperr.IsConflict(err))

	// Keeping its own name is fine.
	_, err = c.Update(ctx, b.ID, testutil.EightStepRecipe("B"))
	assert.NoError(t, err)
}

func TestUpdateUnknownRecipe(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))

	_, err := c.Update(testutil.Admin(), 42, testutil.EightStepRecipe("X"))
	assert.True(t, apperr.IsNotFound(err))
}

func TestListOrdersByName(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))
	ctx := testutil.Admin()

	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		_, err := c.Create(ctx, testutil.EightStepRecipe(name))
		require.NoError(t, err)
	}

	recipes, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, recipes, 3)
	assert.Equal(t, "Alpha", recipes[0].Name)
	assert.Equal(t, "Gamma", recipes[2].Name)
	assert.Len(t, recipes[0].Steps, 8)
}

func TestDeleteBlockedByRunningBatch(t *testing.T) {
	db := testutil.OpenDB(t, 1)
	c := New(db)
	ctx := testutil.Admin()

	created, err := c.Create(ctx, testutil.EightStepRecipe("Base"))
	require.NoError(t, err)

	batch := models.Batch{Number: "B-1", MixerID: 1, RecipeID: created.ID, Status: models.BatchRunning}
	require.NoError(t, db.Create(&batch).Error)

	err = c.Delete(ctx, created.ID)
	assert.True(t, apperr.IsConflict(err))

	require.NoError(t, db.Model(&batch).Update("status", models.BatchCompleted).Error)
	require.NoError(t, c.Delete(ctx, created.ID))

	_, err = c.Get(ctx, created.ID)
	assert.True(t, apperr.IsNotFound(err))

	var steps int64
	db.Model(&models.RecipeStep{}).Where("recipe_id = ?", created.ID).Count(&steps)
	assert.Zero(t, steps)
}

func TestDeleteUnknownRecipe(t *testing.T) {
	c := New(testutil.OpenDB(t, 1))
	assert.True(t, apperr.IsNotFound(c.Delete(testutil.Admin(), 7)))
}
