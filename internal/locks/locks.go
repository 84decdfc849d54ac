// Package locks provides the keyed exclusive locks that serialize batch
// lifecycle calls per mixer and stock movements per product.
//
// Lock order: a mixer lock is taken before a transaction begins; a product
// lock is taken inside the transaction. The product lock is released when the
// stock movement returns, before the transaction commits, so on postgres the
// inventory row is also read FOR UPDATE and stays locked until commit.
package locks

import (
	"errors"
	"fmt"
	"time"

	"mixerline/internal/apperr"

	"github.com/EagleChen/mapmutex"
)

// ErrBusy is the cause reported when a lock could not be acquired in time.
var ErrBusy = errors.New("lock wait exceeded")

// Locker hands out keyed locks.
type Locker struct {
	m *mapmutex.Mutex
}

// New creates a Locker that retries up to maxRetry times with exponential
// backoff capped at maxDelay.
func New(maxRetry int, maxDelay time.Duration) *Locker {
	return &Locker{
		m: mapmutex.NewCustomizedMapMutex(
			maxRetry,
			float64(maxDelay.Nanoseconds()),
			float64(time.Millisecond.Nanoseconds()),
			1.1,
			0.2),
	}
}

// NewDefault creates a Locker suitable for tests and single-node deployments.
func NewDefault() *Locker {
	return New(2000, 20*time.Millisecond)
}

// Mixer locks the mixer with the given id.
func (l *Locker) Mixer(op string, id uint) (func(), error) {
	return l.lock(op, fmt.Sprintf("mixer:%d", id))
}

// Product locks the inventory item of the given product.
func (l *Locker) Product(op, product string) (func(), error) {
	return l.lock(op, "product:"+product)
}

func (l *Locker) lock(op, key string) (func(), error) {
	if !l.m.TryLock(key) {
		return nil, apperr.Unavailable(op, fmt.Errorf("%s: %w", key, ErrBusy))
	}
	return func() { l.m.Unlock(key) }, nil
}
