package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleFromUserType(t *testing.T) {
	role, err := RoleFromUserType("user")
	require.NoError(t, err)
	assert.Equal(t, RoleStandard, role)

	role, err = RoleFromUserType("guest")
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, role)

	_, err = RoleFromUserType("admin")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	assert.Equal(t, "user", RoleStandard.UserType())
	assert.Equal(t, "guest", RoleGuest.UserType())
}

func TestIdentity_Validate(t *testing.T) {
	assert.NoError(t, Identity{Role: RoleGuest, Credential: "tok"}.Validate())
	assert.ErrorIs(t, Identity{Role: RoleStandard}.Validate(), ErrInvalidIdentity)
	assert.ErrorIs(t, Identity{Role: "root", Credential: "tok"}.Validate(), ErrInvalidIdentity)
}

func TestIdentity_StringOmitsCredential(t *testing.T) {
	id := Identity{DisplayName: "alice", Role: RoleStandard, Credential: "very-secret-token"}
	assert.Equal(t, "alice [standard]", id.String())
	assert.NotContains(t, id.String(), "very-secret-token")
}

func TestFingerprint(t *testing.T) {
	assert.Empty(t, Fingerprint(""))

	a := Fingerprint("token-a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("token-a"))
	assert.NotEqual(t, a, Fingerprint("token-b"))
	assert.NotContains(t, a, "token-a")

	assert.Equal(t, a[:12], ShortFingerprint("token-a"))
	assert.Equal(t, a, Identity{Credential: "token-a"}.Fingerprint())
}
