// Package inventory owns stock levels shared by every mixer and the
// append-only ledger of stock movements.
package inventory

import (
	"context"

	"mixerline/internal/apperr"
	"mixerline/internal/auth"
	"mixerline/internal/clock"
	"mixerline/internal/database"
	"mixerline/internal/events"
	"mixerline/internal/locks"
	"mixerline/internal/models"
	"mixerline/internal/monitoring"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/gorm"
	"go.uber.org/zap"
)

// Movement is the outcome of one stock change.
type Movement struct {
	Item        models.InventoryItem        `json:"item"`
	Transaction models.InventoryTransaction `json:"transaction"`
	Requested   float64                     `json:"requested"`
	// Shortfall is the part of a consumption or replenishment that was clamped away
	Shortfall float64 `json:"shortfall"`
}

// Clamped reports whether the requested quantity could not be applied in full.
func (m *Movement) Clamped() bool {
	return m.Shortfall > 0
}

// Ledger manages inventory items. Movements of one product are serialized.
type Ledger struct {
	db       *gorm.DB
	locks    *locks.Locker
	clock    clock.Clock
	monitor  *monitoring.Monitor
	events   events.Publisher
	validate *validator.Validate
}

// New creates a ledger. monitor may be nil.
func New(db *gorm.DB, locker *locks.Locker, clk clock.Clock, monitor *monitoring.Monitor, publisher events.Publisher) *Ledger {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Ledger{
		db:       db,
		locks:    locker,
		clock:    clk,
		monitor:  monitor,
		events:   publisher,
		validate: validator.New(),
	}
}

// Create registers a new product.
func (l *Ledger) Create(ctx context.Context, item models.InventoryItem) (*models.InventoryItem, error) {
	const op = "inventory.Create"
	if _, err := auth.Require(ctx, op, auth.RoleSupervisor); err != nil {
		return nil, err
	}
	if item.Unit == "" {
		item.Unit = models.UnitKilogram
	}
	if err := l.validate.Struct(&item); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}
	if item.Quantity > item.Capacity {
		return nil, apperr.Validation(op, "quantity %.3f exceeds capacity %.3f", item.Quantity, item.Capacity)
	}

	item.ID = 0
	item.Refresh()
	err := database.WithTx(l.db, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.InventoryItem{}).Where("product = ?", item.Product).Count(&count).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		if count > 0 {
			return apperr.Conflict(op, "product %q already exists", item.Product)
		}
		if err := tx.Create(&item).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	zap.S().Infow("Inventory item created", "product", item.Product, "quantity", item.Quantity, "status", item.Status)
	l.monitor.InventoryLevel(item.Product, item.Quantity)
	return &item, nil
}

// Get returns the item of a product.
func (l *Ledger) Get(ctx context.Context, product string) (*models.InventoryItem, error) {
	const op = "inventory.Get"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var item *models.InventoryItem
	err := database.ReadRetry(func() error {
		var err error
		item, err = find(l.db, op, product)
		return err
	})
	return item, err
}

// List returns every item ordered by product.
func (l *Ledger) List(ctx context.Context) ([]models.InventoryItem, error) {
	const op = "inventory.List"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}

	var items []models.InventoryItem
	err := database.ReadRetry(func() error {
		items = nil
		if err := l.db.Order("product asc").Find(&items).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	return items, err
}

// Transactions returns the ledger entries of a product, oldest first.
func (l *Ledger) Transactions(ctx context.Context, product string) ([]models.InventoryTransaction, error) {
	const op = "inventory.Transactions"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}
	return l.transactions(op, "product = ?", product)
}

// BatchTransactions returns the ledger entries posted by a batch, oldest first.
func (l *Ledger) BatchTransactions(ctx context.Context, batchID uint) ([]models.InventoryTransaction, error) {
	const op = "inventory.BatchTransactions"
	if _, err := auth.Require(ctx, op, auth.RoleViewer); err != nil {
		return nil, err
	}
	return l.transactions(op, "batch_id = ?", batchID)
}

func (l *Ledger) transactions(op, where string, arg interface{}) ([]models.InventoryTransaction, error) {
	var txs []models.InventoryTransaction
	err := database.ReadRetry(func() error {
		txs = nil
		if err := l.db.Where(where, arg).Order("id asc").Find(&txs).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	return txs, err
}

// Consume removes quantity of a product. The stock never goes below zero:
// the part that cannot be served is reported as Shortfall.
func (l *Ledger) Consume(ctx context.Context, product string, quantity float64, batchID *uint) (*Movement, error) {
	const op = "inventory.Consume"
	p, err := auth.Require(ctx, op, auth.RoleOperator)
	if err != nil {
		return nil, err
	}

	var m *Movement
	err = database.WithTx(l.db, func(tx *gorm.DB) error {
		var err error
		m, err = l.ConsumeTx(tx, op, product, quantity, batchID, p.Subject)
		return err
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	l.Announce(m)
	return m, nil
}

// Replenish adds quantity of a product, never beyond its capacity.
func (l *Ledger) Replenish(ctx context.Context, product string, quantity float64) (*Movement, error) {
	const op = "inventory.Replenish"
	p, err := auth.Require(ctx, op, auth.RoleSupervisor)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, apperr.Validation(op, "replenish quantity must be positive, got %.3f", quantity)
	}

	return l.apply(op, product, func(item *models.InventoryItem) (models.TransactionType, float64, float64) {
		after := item.Quantity + quantity
		shortfall := 0.0
		if after > item.Capacity {
			shortfall = after - item.Capacity
			after = item.Capacity
		}
		return models.TransactionReplenishment, after, shortfall
	}, quantity, p.Subject)
}

// SetQuantity overwrites the stock of a product after a physical count,
// clamped to [0, capacity].
func (l *Ledger) SetQuantity(ctx context.Context, product string, quantity float64) (*Movement, error) {
	const op = "inventory.SetQuantity"
	p, err := auth.Require(ctx, op, auth.RoleSupervisor)
	if err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, apperr.Validation(op, "quantity must not be negative, got %.3f", quantity)
	}

	return l.apply(op, product, func(item *models.InventoryItem) (models.TransactionType, float64, float64) {
		if quantity > item.Capacity {
			return models.TransactionAdjustment, item.Capacity, quantity - item.Capacity
		}
		return models.TransactionAdjustment, quantity, 0
	}, quantity, p.Subject)
}

type change func(item *models.InventoryItem) (kind models.TransactionType, after, shortfall float64)

func (l *Ledger) apply(op, product string, fn change, requested float64, actor string) (*Movement, error) {
	var m *Movement
	err := database.WithTx(l.db, func(tx *gorm.DB) error {
		unlock, err := l.locks.Product(op, product)
		if err != nil {
			return err
		}
		defer unlock()

		item, err := find(forUpdate(tx), op, product)
		if err != nil {
			return err
		}
		kind, after, shortfall := fn(item)
		m, err = l.post(tx, op, item, kind, after, nil, actor)
		if err != nil {
			return err
		}
		m.Requested = requested
		m.Shortfall = shortfall
		return nil
	})
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	l.Announce(m)
	return m, nil
}

// ConsumeTx posts a consumption inside tx. The caller owns the transaction
// and must call Announce after it commits.
func (l *Ledger) ConsumeTx(tx *gorm.DB, op, product string, quantity float64, batchID *uint, actor string) (*Movement, error) {
	if quantity <= 0 {
		return nil, apperr.Validation(op, "consume quantity must be positive, got %.3f", quantity)
	}

	unlock, err := l.locks.Product(op, product)
	if err != nil {
		return nil, err
	}
	defer unlock()

	item, err := find(forUpdate(tx), op, product)
	if err != nil {
		return nil, err
	}
	after := item.Quantity - quantity
	shortfall := 0.0
	if after < 0 {
		shortfall = -after
		after = 0
	}

	m, err := l.post(tx, op, item, models.TransactionConsumption, after, batchID, actor)
	if err != nil {
		return nil, err
	}
	m.Requested = quantity
	m.Shortfall = shortfall
	if m.Clamped() {
		zap.S().Warnw("Consumption clamped to available stock",
			"product", product,
			"requested", quantity,
			"shortfall", shortfall,
		)
	}
	return m, nil
}

// Announce publishes a committed movement.
func (l *Ledger) Announce(m *Movement) {
	if m == nil {
		return
	}
	l.monitor.InventoryLevel(m.Item.Product, m.Item.Quantity)
	var batchID uint
	if m.Transaction.BatchID != nil {
		batchID = *m.Transaction.BatchID
	}
	l.events.Publish(events.Event{
		Type:    events.InventoryChanged,
		BatchID: batchID,
		At:      m.Transaction.CreatedAt,
		Payload: m,
	})
}

func (l *Ledger) post(tx *gorm.DB, op string, item *models.InventoryItem, kind models.TransactionType, after float64, batchID *uint, actor string) (*Movement, error) {
	before := item.Quantity
	item.Quantity = after
	item.Refresh()

	err := tx.Model(item).Updates(map[string]interface{}{
		"quantity": item.Quantity,
		"status":   item.Status,
	}).Error
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	entry := models.InventoryTransaction{
		InventoryID: item.ID,
		Product:     item.Product,
		BatchID:     batchID,
		Type:        kind,
		Quantity:    after - before,
		Before:      before,
		After:       after,
		Actor:       actor,
		CreatedAt:   l.clock.Now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	zap.S().Debugw("Inventory movement posted",
		"product", item.Product,
		"type", kind,
		"before", before,
		"after", after,
		"status", item.Status,
	)
	return &Movement{Item: *item, Transaction: entry}, nil
}

// forUpdate makes the next read lock the selected row until tx ends, so a
// concurrent movement cannot read the quantity before this one commits.
// SQLite runs on a single connection and needs no row lock.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if clause := rowLockClause(tx.Dialect().GetName()); clause != "" {
		return tx.Set("gorm:query_option", clause)
	}
	return tx
}

func rowLockClause(dialect string) string {
	if dialect == database.DriverPostgres {
		return "FOR UPDATE"
	}
	return ""
}

func find(db *gorm.DB, op, product string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := db.Where("product = ?", product).First(&item).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, apperr.NotFound(op, "product %q not found", product)
	}
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return &item, nil
}
