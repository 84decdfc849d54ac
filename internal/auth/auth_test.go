package auth

import (
	"context"
	"testing"
	"time"

	"mixerline/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequire(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{Subject: "jdoe", Role: RoleOperator})

	p, err := Require(ctx, "test", RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", p.Subject)

	_, err = Require(ctx, "test", RoleOperator)
	assert.NoError(t, err)

	_, err = Require(ctx, "test", RoleSupervisor)
	assert.True(t, apperr.IsForbidden(err))

	_, err = Require(context.Background(), "test", RoleViewer)
	assert.True(t, apperr.IsForbidden(err))
}

func TestRoleCovers(t *testing.T) {
	assert.True(t, RoleAdmin.Covers(RoleSupervisor))
	assert.False(t, RoleViewer.Covers(RoleOperator))
	assert.False(t, Role("guest").Covers(RoleViewer))
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := IssueToken("s3cret", Principal{Subject: "line-lead", Role: RoleSupervisor}, time.Hour)
	require.NoError(t, err)

	p, err := ParseToken("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "line-lead", Role: RoleSupervisor}, p)

	_, err = ParseToken("other", token)
	assert.Error(t, err)
}

func TestParseTokenRejectsUnknownRole(t *testing.T) {
	token, err := IssueToken("s3cret", Principal{Subject: "x", Role: Role("guest")}, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken("s3cret", token)
	assert.Error(t, err)
}
