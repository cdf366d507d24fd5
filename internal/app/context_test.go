package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapeoutops/internal/config"
	"tapeoutops/internal/engine"
	"tapeoutops/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Storage.LocalDir = filepath.Join(dir, "documents")
	cfg.Storage.EvidenceDir = filepath.Join(dir, "evidence")
	return cfg
}

func TestOpenBuildsWorkingHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Open(ctx, testConfig(t), logging.Discard())
	require.NoError(t, err)
	defer c.Close()

	h, err := c.Handler()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	u, err := c.Engine.Signup(ctx, engine.SignupInput{Email: "admin@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Role)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "s3"
	_, err := Open(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := Open(context.Background(), testConfig(t), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
