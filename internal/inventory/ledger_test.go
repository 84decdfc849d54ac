package inventory

import (
	"sync"
	"testing"

	"mixerline/internal/apperr"
	"mixerline/internal/auth"
	"mixerline/internal/events"
	"mixerline/internal/locks"
	"mixerline/internal/models"
	"mixerline/internal/testutil"

	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) (*Ledger, *gorm.DB, *events.Hub) {
	db := testutil.OpenDB(t, 1)
	hub := events.NewHub()
	return New(db, locks.NewDefault(), testutil.Clock(), nil, hub), db, hub
}

func TestCreateDerivesStatus(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := testutil.Ctx(auth.RoleSupervisor)

	tests := []struct {
		product  string
		quantity float64
		want     models.InventoryStatus
	}{
		{"A", 50, models.StockCritical},
		{"B", 200, models.StockLow},
		{"C", 800, models.StockNormal},
	}
	for _, tt := range tests {
		item, err := l.Create(ctx, models.InventoryItem{Product: tt.product, Quantity: tt.quantity, MinThreshold: 100, Capacity: 1000})
		require.NoError(t, err)
		assert.Equal(t, tt.want, item.Status, tt.product)
		assert.Equal(t, models.UnitKilogram, item.Unit)
	}

	_, err := l.Create(ctx, models.InventoryItem{Product: "A", Quantity: 1, Capacity: 10})
	assert.True(t, apperr.IsConflict(err))

	_, err = l.Create(ctx, models.InventoryItem{Product: "D", Quantity: 11, Capacity: 10})
	assert.True(t, apperr.IsValidation(err))

	_, err = l.Create(ctx, models.InventoryItem{Product: "E", Quantity: 1, Capacity: 10, Unit: "bushel"})
	assert.True(t, apperr.IsValidation(err))
}

func TestConsumeRecordsTransaction(t *testing.T) {
	l, db, hub := newLedger(t)
	testutil.CreateInventory(t, db, "Resin", 800, 100, 1000)
	_, feed, cancel := hub.Subscribe(4)
	defer cancel()

	batchID := uint(7)
	m, err := l.Consume(testutil.Ctx(auth.RoleOperator), "Resin", 600, &batchID)
	require.NoError(t, err)

	assert.Equal(t, 200.0, m.Item.Quantity)
	assert.Equal(t, models.StockLow, m.Item.Status)
	assert.False(t, m.Clamped())
	assert.Equal(t, models.TransactionConsumption, m.Transaction.Type)
	assert.Equal(t, -600.0, m.Transaction.Quantity)
	assert.Equal(t, 800.0, m.Transaction.Before)
	assert.Equal(t, 200.0, m.Transaction.After)
	assert.Equal(t, "test-operator", m.Transaction.Actor)
	assert.Equal(t, events.InventoryChanged, (<-feed).Type)

	txs, err := l.BatchTransactions(testutil.Admin(), 7)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Resin", txs[0].Product)
}

func TestConsumeNeverGoesNegative(t *testing.T) {
	l, db, _ := newLedger(t)
	testutil.CreateInventory(t, db, "Talc", 30, 10, 100)

	m, err := l.Consume(testutil.Admin(), "Talc", 45, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Item.Quantity)
	assert.Equal(t, 15.0, m.Shortfall)
	assert.True(t, m.Clamped())
	assert.Equal(t, models.StockCritical, m.Item.Status)
	assert.Equal(t, -30.0, m.Transaction.Quantity)
}

func TestConsumeErrors(t *testing.T) {
	l, db, _ := newLedger(t)
	testutil.CreateInventory(t, db, "Talc", 30, 10, 100)

	_, err := l.Consume(testutil.Admin(), "Unobtainium", 1, nil)
	assert.True(t, apperr.IsNotFound(err))

	_, err = l.Consume(testutil.Admin(), "Talc", -1, nil)
	assert.True(t, apperr.IsValidation(err))

	_, err = l.Consume(testutil.Ctx(auth.RoleViewer), "Talc", 1, nil)
	assert.True(t, apperr.IsForbidden(err))
}

func TestReplenishClampsToCapacity(t *testing.T) {
	l, db, _ := newLedger(t)
	testutil.CreateInventory(t, db, "Oil", 900, 100, 1000)

	m, err := l.Replenish(testutil.Ctx(auth.RoleSupervisor), "Oil", 250)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, m.Item.Quantity)
	assert.Equal(t, 150.0, m.Shortfall)
	assert.Equal(t, 100.0, m.Transaction.Quantity)
	assert.Equal(t, models.TransactionReplenishment, m.Transaction.Type)

	_, err = l.Replenish(testutil.Ctx(auth.RoleOperator), "Oil", 1)
	assert.True(t, apperr.IsForbidden(err))

	_, err = l.Replenish(testutil.Admin(), "Oil", 0)
	assert.True(t, apperr.IsValidation(err))
}

func TestSetQuantity(t *testing.T) {
	l, db, _ := newLedger(t)
	testutil.CreateInventory(t, db, "Oil", 900, 100, 1000)

	m, err := l.SetQuantity(testutil.Admin(), "Oil", 80)
	require.NoError(t, err)
	assert.Equal(t, 80.0, m.Item.Quantity)
	assert.Equal(t, models.StockCritical, m.Item.Status)
	assert.Equal(t, models.TransactionAdjustment, m.Transaction.Type)

	m, err = l.SetQuantity(testutil.Admin(), "Oil", 5000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, m.Item.Quantity)

	txs, err := l.Transactions(testutil.Admin(), "Oil")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestConcurrentConsumptionSerializes(t *testing.T) {
	l, db, _ := newLedger(t)
	testutil.CreateInventory(t, db, "Resin", 150, 10, 1000)
	ctx := testutil.Admin()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		shortfall float64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := l.Consume(ctx, "Resin", 10, nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			shortfall += m.Shortfall
			mu.Unlock()
		}()
	}
	wg.Wait()

	item, err := l.Get(ctx, "Resin")
	require.NoError(t, err)
	assert.Equal(t, 0.0, item.Quantity)
	assert.Equal(t, 50.0, shortfall)

	txs, err := l.Transactions(ctx, "Resin")
	require.NoError(t, err)
	require.Len(t, txs, 20)
	for i := 1; i < len(txs); i++ {
		assert.Equal(t, txs[i-1].After, txs[i].Before, "ledger entries must chain")
	}
}

func TestRowLockPerDialect(t *testing.T) {
	assert.Equal(t, "FOR UPDATE", rowLockClause("postgres"))
	assert.Empty(t, rowLockClause("sqlite3"))

	_, db, _ := newLedger(t)
	_, locked := forUpdate(db).Get("gorm:query_option")
	assert.False(t, locked, "sqlite reads carry no row lock clause")

	testutil.CreateInventory(t, db, "Talc", 40, 5, 100)
	item, err := find(forUpdate(db), "test", "Talc")
	require.NoError(t, err)
	assert.Equal(t, 40.0, item.Quantity)
}

func TestList(t *testing.T) {
	l, db, _ := newLedger(t)
	testutil.CreateInventory(t, db, "Talc", 30, 10, 100)
	testutil.CreateInventory(t, db, "Oil", 30, 10, 100)

	items, err := l.List(testutil.Ctx(auth.RoleViewer))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Oil", items[0].Product)
}
