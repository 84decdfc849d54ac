// Package testutil provides fixtures shared by the engine tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mixerline/internal/auth"
	"mixerline/internal/clock"
	"mixerline/internal/database"
	"mixerline/internal/models"

	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/require"
)

// Epoch is the instant fake clocks start at.
var Epoch = time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)

// OpenDB returns a migrated in-memory database with mixers 1..n, closed when the test ends.
func OpenDB(t testing.TB, mixers int) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory(mixers)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// Clock returns a fake clock set to Epoch.
func Clock() *clock.Fake {
	return clock.NewFake(Epoch)
}

// Ctx returns a context carrying a principal with the given role.
func Ctx(role auth.Role) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{Subject: "test-" + string(role), Role: role})
}

// Admin returns a context carrying an admin principal.
func Admin() context.Context {
	return Ctx(auth.RoleAdmin)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Step builds a non-dosing step.
func Step(number int, function models.StepFunction, seconds int) models.RecipeStep {
	return models.RecipeStep{
		Number:    number,
		Function:  function,
		ArmMode:   models.ModeLowSpeed,
		ScrewMode: models.ModeLowSpeed,
		Duration:  seconds,
	}
}

// Dosing builds a dosing step for product.
func Dosing(number int, product string, weight float64, seconds int) models.RecipeStep {
	s := Step(number, models.FunctionAutomaticDosing, seconds)
	s.Product = product
	s.Weight = Float(weight)
	return s
}

// Recipe builds an unsaved recipe.
func Recipe(name string, steps ...models.RecipeStep) models.Recipe {
	return models.Recipe{Name: name, Description: "fixture", Active: true, Steps: steps}
}

// EightStepRecipe builds an unsaved eight-step production recipe dosing
// Resin (100 kg) and Talc (50 kg).
func EightStepRecipe(name string) models.Recipe {
	return Recipe(name,
		Step(1, models.FunctionStart, 30),
		Dosing(2, "Resin", 100, 300),
		Step(3, models.FunctionMix, 600),
		Dosing(4, "Talc", 50, 240),
		Step(5, models.FunctionVacuumPrep, 120),
		Step(6, models.FunctionVacuumHold, 900),
		Step(7, models.FunctionMix, 300),
		Step(8, models.FunctionExtrusion, 600),
	)
}

// CreateRecipe stores r directly, bypassing the catalog.
func CreateRecipe(t testing.TB, db *gorm.DB, r models.Recipe) models.Recipe {
	t.Helper()
	steps := r.Steps
	r.Steps = nil
	require.NoError(t, db.Create(&r).Error)
	for i := range steps {
		steps[i].RecipeID = r.ID
		require.NoError(t, db.Create(&steps[i]).Error)
	}
	r.Steps = steps
	return r
}

// CreateInventory stores an inventory item directly.
func CreateInventory(t testing.TB, db *gorm.DB, product string, quantity, minThreshold, capacity float64) models.InventoryItem {
	t.Helper()
	item := models.InventoryItem{
		Product:      product,
		Category:     "raw",
		Quantity:     quantity,
		MinThreshold: minThreshold,
		Capacity:     capacity,
		Unit:         models.UnitKilogram,
	}
	item.Refresh()
	require.NoError(t, db.Create(&item).Error, fmt.Sprintf("create inventory %s", product))
	return item
}
