package engine

import (
	"testing"

	"mixerline/internal/events"
	"mixerline/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSharesHubAcrossComponents(t *testing.T) {
	e := New(testutil.OpenDB(t, 2), Options{Clock: testutil.Clock()})
	require.NotNil(t, e.Batches)

	_, ch, cancel := e.Hub.Subscribe(4)
	defer cancel()

	_, err := e.Alarms.Raise(testutil.Ctx("operator"), 2, "DOOR_OPEN", "guard door open", "Warning")
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, events.AlarmRaised, ev.Type)
		assert.Equal(t, uint(2), ev.MixerID)
	default:
		t.Fatal("expected an alarm event on the shared hub")
	}

	mixers, err := e.Mixers.List(testutil.Admin())
	require.NoError(t, err)
	assert.Len(t, mixers, 2)
}
