package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kakoi/internal/model"
)

func testActor(role model.ActorRole, projectID string) model.Actor {
	a := model.Actor{
		ID:      uuid.New(),
		ActorID: "svc-billing",
		Role:    role,
	}
	if projectID != "" {
		a.ProjectID = &projectID
	}
	return a
}

func TestIssueAndValidateToken(t *testing.T) {
	mgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	actor := testActor(model.RoleService, "acme")
	token, exp, err := mgr.IssueToken(actor)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, actor.ID.String(), claims.Subject)
	assert.Equal(t, "svc-billing", claims.ActorID)
	assert.Equal(t, model.RoleService, claims.Role)
	assert.Equal(t, "acme", claims.ProjectID)
}

func TestIssueTokenNoProject(t *testing.T) {
	mgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(testActor(model.RoleAdmin, ""))
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Empty(t, claims.ProjectID)
}

func TestValidateExpiredToken(t *testing.T) {
	mgr, err := NewJWTManager("", "", -time.Minute)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(testActor(model.RoleService, "acme"))
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenWrongKey(t *testing.T) {
	issuer, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	verifier, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.IssueToken(testActor(model.RoleService, "acme"))
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	mgr, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	for _, tok := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		_, err := mgr.ValidateToken(tok)
		assert.Error(t, err, "token %q", tok)
	}
}

func TestNewJWTManagerMissingKeyFile(t *testing.T) {
	_, err := NewJWTManager("/nonexistent/priv.pem", "/nonexistent/pub.pem", time.Hour)
	assert.Error(t, err)
}
