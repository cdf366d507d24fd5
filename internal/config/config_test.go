package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/api/v1", cfg.HTTP.BasePath)
	assert.Equal(t, 3*time.Hour, cfg.Storage.SignedURLTTL)
	assert.Equal(t, int64(10<<20), cfg.Uploads.MaxEvidenceBytes)
	assert.Contains(t, cfg.Uploads.EvidenceExtensions, ".docx")
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
auth:
  jwt_secret: s3cret
  token_ttl: 1h
storage:
  backend: gcs
  gcs_bucket: specs-bucket
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"backend":   "storage:\n  backend: s3\n",
		"bucket":    "storage:\n  backend: gcs\n",
		"secret":    "auth:\n  jwt_secret: \"\"\n",
		"base path": "http:\n  base_path: api\n",
		"extension": "uploads:\n  evidence_extensions: [pdf]\n",
		"smtp from": "smtp:\n  host: mail.local\n  from: \"\"\n",
		"format":    "log:\n  format: xml\n",
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("data_dir: /var/lib/tapeoutops\n"), 0o644))
	cfg, err := Load(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tapeoutops", cfg.DataDir)
}
