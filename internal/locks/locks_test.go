package locks

import (
	"sync"
	"testing"
	"time"

	"mixerline/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMixerLockSerializes(t *testing.T) {
	l := NewDefault()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Mixer("test", 3)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLockTimeout(t *testing.T) {
	l := New(2, time.Millisecond)

	unlock, err := l.Product("test", "Resin")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Product("test", "Resin")
	assert.True(t, apperr.IsUnavailable(err))
	assert.ErrorIs(t, err, ErrBusy)

	other, err := l.Product("test", "Talc")
	require.NoError(t, err)
	other()
}
