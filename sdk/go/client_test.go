package designgatesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	designgatesdk "designgate/sdk/go"

	"designgate/internal/config"
	"designgate/internal/db"
	"designgate/internal/engine"
	"designgate/internal/migrate"
	"designgate/internal/server"
)

const secret = "sdk-secret"

func newClient(t *testing.T) *designgatesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, config.Default(), nil),
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "carol"}).SignedString([]byte(secret))
	require.NoError(t, err)
	c := designgatesdk.New(ts.URL)
	c.BearerToken = tok
	return c
}

func TestClientGateAndAssess(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	phases := []designgatesdk.Phase{
		{ID: "discover", Status: "completed", Progress: 100},
		{ID: "define", Status: "not-started"},
		{ID: "design", Status: "not-started"},
	}
	ok, err := c.Unlocked(ctx, phases, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Unlocked(ctx, phases, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Unlocked(ctx, phases, 7)
	var apiErr *designgatesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "index_out_of_range", apiErr.Code)

	sources, err := c.Resolve(ctx, "consent", "", []designgatesdk.GuidanceSource{
		{SourceID: "a", GuidanceArea: "consent"},
		{SourceID: "b", GuidanceArea: "privacy"},
	})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "a", sources[0].SourceID)

	a, err := c.Assess(ctx, []designgatesdk.Flag{{QuestionKey: "consent", Issue: "no opt-out", Severity: "medium"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 94.0, a.EthicalScore)
	assert.True(t, a.CanProceed)
	assert.Len(t, a.ActionableRecommendations, 1)
}

func TestClientAcknowledgements(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	ack, err := c.Acknowledge(ctx, "ec-1", "discussed")
	require.NoError(t, err)
	assert.Equal(t, "carol", ack.ActorID)

	items, err := c.ListAcknowledgements(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ec-1", items[0].ConsiderationID)

	require.NoError(t, c.Unacknowledge(ctx, "ec-1"))
	err = c.Unacknowledge(ctx, "ec-1")
	var apiErr *designgatesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	evs, err := c.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "consideration.unacknowledged", evs[0].Type)
}
