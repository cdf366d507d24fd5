package tapeoutopssdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginKeepsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "eng@example.com", body["email"])
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "token_type": "bearer"})
		case "/api/v1/users/me":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{"id": "u1", "email": "eng@example.com", "role": "engineer"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Login(context.Background(), "eng@example.com", "password123")
	require.NoError(t, err)
	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", me.ID)
}

func TestUploadSpecSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/specs", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "p1", r.FormValue("project_id"))
		assert.Equal(t, `{"node":"7nm"}`, r.FormValue("metadata"))
		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pll.json", fh.Filename)
		assert.Equal(t, `{"name":"PLL"}`, string(data))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "s1", "status": "draft", "file_path": "specs/p1/1.0.0/pll.json"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "key-1"
	s, err := c.UploadSpec(context.Background(), SpecUpload{
		ProjectID: "p1",
		Name:      "PLL",
		Version:   "1.0.0",
		Metadata:  map[string]any{"node": "7nm"},
		Filename:  "pll.json",
		Content:   strings.NewReader(`{"name":"PLL"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "draft", s.Status)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"code":"forbidden","message":"not allowed to lint spec"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).LintSpec(context.Background(), "s1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "forbidden", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "not allowed")
}

func TestExportReportReadsFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/reports/specs/export", r.URL.Path)
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="specs-report-20240101.csv"`)
		io.WriteString(w, "summary\n")
	}))
	defer srv.Close()

	out, err := New(srv.URL).ExportReport(context.Background(), "specs", "csv")
	require.NoError(t, err)
	assert.Equal(t, "specs-report-20240101.csv", out.Filename)
	assert.Equal(t, "summary\n", string(out.Data))
}
