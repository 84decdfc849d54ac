package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Conflict("batches.Start", "mixer %d already running", 3))

	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "mixer 3 already running")
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := Unavailable("catalog.Get", cause)

	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, cause)

	nf := NotFound("catalog.Get", "recipe 9")
	assert.Same(t, nf, Unavailable("catalog.Get", nf).(*Error))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindUnavailable, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
