// Package engine assembles the batch tracking components over one database.
package engine

import (
	"mixerline/internal/alarms"
	"mixerline/internal/batches"
	"mixerline/internal/catalog"
	"mixerline/internal/clock"
	"mixerline/internal/events"
	"mixerline/internal/inventory"
	"mixerline/internal/locks"
	"mixerline/internal/mixers"
	"mixerline/internal/monitoring"
	"mixerline/internal/tracker"

	"github.com/jinzhu/gorm"
)

// Engine holds every component, sharing one lock table, clock and event hub.
type Engine struct {
	DB      *gorm.DB
	Hub     *events.Hub
	Monitor *monitoring.Monitor
	Catalog *catalog.Catalog
	Mixers  *mixers.Registry
	Ledger  *inventory.Ledger
	Alarms  *alarms.Correlator
	Tracker *tracker.Tracker
	Batches *batches.Manager
}

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	Clock   clock.Clock
	Locks   *locks.Locker
	Monitor *monitoring.Monitor
}

// New wires the components over db.
func New(db *gorm.DB, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Locks == nil {
		opts.Locks = locks.NewDefault()
	}

	hub := events.NewHub()
	e := &Engine{
		DB:      db,
		Hub:     hub,
		Monitor: opts.Monitor,
		Catalog: catalog.New(db),
		Mixers:  mixers.New(db, opts.Locks, hub),
		Ledger:  inventory.New(db, opts.Locks, opts.Clock, opts.Monitor, hub),
		Alarms:  alarms.New(db, opts.Locks, opts.Clock, opts.Monitor, hub),
		Tracker: tracker.New(opts.Clock, opts.Monitor),
	}
	e.Batches = batches.New(batches.Deps{
		DB:      db,
		Locks:   opts.Locks,
		Tracker: e.Tracker,
		Ledger:  e.Ledger,
		Alarms:  e.Alarms,
		Monitor: opts.Monitor,
		Events:  hub,
	})
	return e
}
