package models

import "time"

// LowStockRatio is the share of capacity at or below which stock is Low
const LowStockRatio = 0.25

// InventoryItem represents the stock of one product shared by all mixers
type InventoryItem struct {
	ID           uint            `gorm:"primary_key" json:"id"`
	Product      string          `gorm:"unique_index;not null" json:"product" validate:"required,max=120"`
	Category     string          `json:"category"`
	Quantity     float64         `json:"quantity" validate:"gte=0"`
	Capacity     float64         `json:"capacity" validate:"gt=0"`
	MinThreshold float64         `json:"minThreshold" validate:"gte=0"`
	Unit         InventoryUnit   `json:"unit" validate:"oneof=kg g l ml"`
	Status       InventoryStatus `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// TableName sets the table name for InventoryItem
func (InventoryItem) TableName() string {
	return "inventory"
}

// Refresh recomputes the stock status from the current quantity
func (i *InventoryItem) Refresh() {
	i.Status = DeriveInventoryStatus(i.Quantity, i.MinThreshold, i.Capacity)
}

// DeriveInventoryStatus maps a quantity to its stock status.
// Critical at or below the minimum threshold, Low at or below a quarter of capacity.
func DeriveInventoryStatus(quantity, minThreshold, capacity float64) InventoryStatus {
	switch {
	case quantity <= minThreshold:
		return StockCritical
	case quantity <= LowStockRatio*capacity:
		return StockLow
	default:
		return StockNormal
	}
}

// InventoryStatus represents the stock level of an inventory item
type InventoryStatus string

const (
	StockNormal   InventoryStatus = "Normal"
	StockLow      InventoryStatus = "Low"
	StockCritical InventoryStatus = "Critical"
)

// InventoryUnit represents the unit of measurement for an inventory item
type InventoryUnit string

const (
	// Mass units
	UnitKilogram InventoryUnit = "kg"
	UnitGram     InventoryUnit = "g"

	// Volume units
	UnitLiter      InventoryUnit = "l"
	UnitMilliliter InventoryUnit = "ml"
)

// InventoryTransaction is an append-only ledger entry for one stock movement
type InventoryTransaction struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	InventoryID uint            `gorm:"index" json:"inventoryId"`
	Product     string          `gorm:"index" json:"product"`
	BatchID     *uint           `gorm:"index" json:"batchId"`
	Type        TransactionType `json:"type"`
	Quantity    float64         `json:"quantity"` // signed
	Before      float64         `json:"before"`
	After       float64         `json:"after"`
	Actor       string          `json:"actor,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// TableName sets the table name for InventoryTransaction
func (InventoryTransaction) TableName() string {
	return "inventory_transactions"
}

// TransactionType represents the kind of stock movement
type TransactionType string

const (
	TransactionConsumption   TransactionType = "Consumption"
	TransactionReplenishment TransactionType = "Replenishment"
	TransactionAdjustment    TransactionType = "Adjustment"
)
