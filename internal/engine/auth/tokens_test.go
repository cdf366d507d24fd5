package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapeoutops/internal/domain"
)

func TestTokensRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := Tokens{Secret: []byte("k"), TTL: time.Hour, Now: func() time.Time { return now }}
	u := domain.User{ID: "u1", Email: "a@example.com", Role: domain.RoleEngineer}

	access, exp, err := tok.Issue(u)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	claims, err := tok.Parse(access, PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, domain.RoleEngineer, claims.Role)

	_, err = tok.Parse(access, PurposePasswordReset)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := Tokens{Secret: []byte("other"), TTL: time.Hour, Now: tok.Now}
	_, err = other.Parse(access, PurposeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	later := Tokens{Secret: []byte("k"), Now: func() time.Time { return now.Add(2 * time.Hour) }}
	_, err = later.Parse(access, PurposeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestRequireOwnerOrAdmin(t *testing.T) {
	owner := domain.Actor{UserID: "u1", Role: domain.RoleEngineer}
	admin := domain.Actor{UserID: "u2", Role: domain.RoleAdmin}
	other := domain.Actor{UserID: "u3", Role: domain.RolePM}

	assert.NoError(t, RequireOwnerOrAdmin(owner, "u1", "update spec"))
	assert.NoError(t, RequireOwnerOrAdmin(admin, "u1", "update spec"))
	err := RequireOwnerOrAdmin(other, "u1", "update spec")
	var fe ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "not allowed to update spec", fe.Error())
}

func TestRequireOwnerIgnoresAdminRole(t *testing.T) {
	owner := domain.Actor{UserID: "u1", Role: domain.RoleEngineer}
	admin := domain.Actor{UserID: "u2", Role: domain.RoleAdmin}

	assert.NoError(t, RequireOwner(owner, "u1", "approve spec"))
	var fe ForbiddenError
	require.ErrorAs(t, RequireOwner(admin, "u1", "approve spec"), &fe)
	require.ErrorAs(t, RequireOwner(owner, "", "approve spec"), &fe)
}
