// Package catalog owns recipe definitions and their ordered step lists.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mixerline/internal/apperr"
	"mixerline/internal/auth"
	"mixerline/internal/database"
	"mixerline/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/gorm"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Catalog stores recipes. Single recipe reads are cached until the recipe changes.
type Catalog struct {
	db       *gorm.DB
	cache    *cache.Cache
	validate *validator.Validate
	// names serializes the duplicate-name check with the write that follows it
	names sync.Mutex
	// gen counts invalidations; a read fills the cache only when no write
	// finished while it was loading
	cacheMu sync.Mutex
	gen     uint64
}

// New creates a catalog backed by db.
func New(db *gorm.DB) *Catalog {
	return &Catalog{
		db:       db,
		cache:    cache.New(10*time.Minute, 20*time.Minute),
		validate: validator.New(),
	}
}

// Create validates and stores a new recipe. Recipe names are unique.
func (c *Catalog) Create(ctx context.Context, recipe models.Recipe) (*models.Recipe, error) {
	const op = "catalog.Create"
	if _, err := auth.Require(ctx, op, auth.RoleSupervisor); err != nil {
		return nil, err
	}
	if err := c.Validate(op, &recipe); err != nil {
		return nil, err
	}

	c.names.Lock()
	defer c.names.Unlock()

	steps := recipe.Steps
	recipe.ID = 0
	recipe.Steps = nil
	err := database.WithTx(c.db, func(tx *gorm.DB) error {
		if err := ensureUniqueName(tx, op, recipe.Name, 0); err != nil {
			return err
		}
		if err := tx.Set("gorm:save_associations", false).Create(&recipe).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		created, err := insertSteps(tx, op, recipe.ID, steps)
		if err != nil {
			return err
		}
		recipe.Steps = created
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	zap.S().Infow("Recipe created", "recipe", recipe.ID, "name", recipe.Name, "steps", len(recipe.Steps))
	return &recipe, nil
}

// Update replaces a recipe's fields and its whole step list. Batches already
// running keep the snapshot taken when they started.
func (c *Catalog) Update(ctx context.Context, id uint, recipe models.Recipe) (*models.Recipe, error) {
	const op = "catalog.Update"
	if _, err := auth.Require(ctx, op, auth.RoleSupervisor); err != nil {
		return nil, err
	}
	if err := c.Validate(op, &recipe); err != nil {
		return nil, err
	}

	c.names.Lock()
	defer c.names.Unlock()

	var updated models.Recipe
	err := database.WithTx(c.db, func(tx *gorm.DB) error {
		if err := database.Find(tx, op, &updated, id, "recipe"); err != nil {
			return err
		}
		if err := ensureUniqueName(tx, op, recipe.Name, id); err != nil {
			return err
		}
		err := tx.Model(&updated).Updates(map[string]interface{}{
			"name":        recipe.Name,
			"description": recipe.Description,
			"active":      recipe.Active,
		}).Error
		if err != nil {
			return apperr.Unavailable(op, err)
		}
		updated.Name = recipe.Name
		updated.Description = recipe.Description
		updated.Active = recipe.Active
		if err := tx.Where("recipe_id = ?", id).Delete(&models.RecipeStep{}).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		steps, err := insertSteps(tx, op, id, recipe.Steps)
		if err != nil {
			return err
		}
		updated.Steps = steps
		return nil
	})
	c.invalidate(id)
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	zap.S().Infow("Recipe updated", "recipe", id, "steps", len(updated.Steps))
	return &updated, nil
}

// Get returns a recipe with its steps in order.
func (c *Catalog) Get(ctx context.Context, id uint) (*models.Recipe, error) {
	const op = "catalog.Get"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}
	if cached, ok := c.cache.Get(cacheKey(id)); ok {
		recipe := cached.(models.Recipe)
		recipe.Steps = append([]models.RecipeStep(nil), recipe.Steps...)
		return &recipe, nil
	}

	gen := c.generation()
	var recipe *models.Recipe
	err := database.ReadRetry(func() error {
		var err error
		recipe, err = Load(c.db, op, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.store(id, gen, *recipe)
	return recipe, nil
}

func (c *Catalog) generation() uint64 {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return c.gen
}

// store caches recipe unless the cache was invalidated after gen was read.
func (c *Catalog) store(id uint, gen uint64, recipe models.Recipe) bool {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if c.gen != gen {
		return false
	}
	recipe.Steps = append([]models.RecipeStep(nil), recipe.Steps...)
	c.cache.SetDefault(cacheKey(id), recipe)
	return true
}

func (c *Catalog) invalidate(id uint) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.gen++
	c.cache.Delete(cacheKey(id))
}

// List returns every recipe ordered by name.
func (c *Catalog) List(ctx context.Context) ([]models.Recipe, error) {
	const op = "catalog.List"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var recipes []models.Recipe
	err := database.ReadRetry(func() error {
		recipes = nil
		err := c.db.Preload("Steps", orderSteps).Order("name asc").Find(&recipes).Error
		if err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	return recipes, err
}

// Delete removes a recipe unless a running batch still references it.
func (c *Catalog) Delete(ctx context.Context, id uint) error {
	const op = "catalog.Delete"
	if _, err := auth.Require(ctx, op, auth.RoleSupervisor); err != nil {
		return err
	}

	err := database.WithTx(c.db, func(tx *gorm.DB) error {
		var recipe models.Recipe
		if err := database.Find(tx, op, &recipe, id, "recipe"); err != nil {
			return err
		}
		var running int64
		err := tx.Model(&models.Batch{}).
			Where("recipe_id = ? AND status = ?", id, models.BatchRunning).
			Count(&running).Error
		if err != nil {
			return apperr.Unavailable(op, err)
		}
		if running > 0 {
			return apperr.Conflict(op, "recipe %d is used by %d running batch(es)", id, running)
		}
		if err := tx.Where("recipe_id = ?", id).Delete(&models.RecipeStep{}).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		if err := tx.Delete(&recipe).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	c.invalidate(id)
	if err != nil {
		return apperr.Unavailable(op, err)
	}

	zap.S().Infow("Recipe deleted", "recipe", id)
	return nil
}

// Load reads a recipe and its ordered steps from db, which may be a transaction.
func Load(db *gorm.DB, op string, id uint) (*models.Recipe, error) {
	var recipe models.Recipe
	err := db.Preload("Steps", orderSteps).First(&recipe, id).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, apperr.NotFound(op, "recipe %d not found", id)
	}
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return &recipe, nil
}

// Validate applies defaults, checks field constraints and requires step
// numbers to form the dense sequence 1..N. Steps are sorted by number.
func (c *Catalog) Validate(op string, recipe *models.Recipe) error {
	for i := range recipe.Steps {
		if recipe.Steps[i].ArmMode == "" {
			recipe.Steps[i].ArmMode = models.ModeLowSpeed
		}
		if recipe.Steps[i].ScrewMode == "" {
			recipe.Steps[i].ScrewMode = models.ModeLowSpeed
		}
	}
	if err := c.validate.Struct(recipe); err != nil {
		return apperr.Validation(op, "%v", err)
	}

	sort.SliceStable(recipe.Steps, func(i, j int) bool {
		return recipe.Steps[i].Number < recipe.Steps[j].Number
	})
	for i, step := range recipe.Steps {
		if step.Number != i+1 {
			return apperr.Validation(op, "step numbers must be 1..%d without gaps or duplicates, found %d at position %d",
				len(recipe.Steps), step.Number, i+1)
		}
		if step.Product == "" && step.PlannedWeight() > 0 {
			return apperr.Validation(op, "step %d has a weight but no product", step.Number)
		}
	}
	return nil
}

func ensureUniqueName(tx *gorm.DB, op, name string, self uint) error {
	var count int64
	q := tx.Model(&models.Recipe{}).Where("name = ?", name)
	if self != 0 {
		q = q.Where("id <> ?", self)
	}
	if err := q.Count(&count).Error; err != nil {
		return apperr.Unavailable(op, err)
	}
	if count > 0 {
		return apperr.Conflict(op, "a recipe named %q already exists", name)
	}
	return nil
}

func insertSteps(tx *gorm.DB, op string, recipeID uint, steps []models.RecipeStep) ([]models.RecipeStep, error) {
	created := make([]models.RecipeStep, 0, len(steps))
	for _, step := range steps {
		step.ID = 0
		step.RecipeID = recipeID
		if err := tx.Create(&step).Error; err != nil {
			return nil, apperr.Unavailable(op, err)
		}
		created = append(created, step)
	}
	return created, nil
}

func orderSteps(db *gorm.DB) *gorm.DB {
	return db.Order("number asc")
}

func cacheKey(id uint) string {
	return fmt.Sprintf("recipe:%d", id)
}
