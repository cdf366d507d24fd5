package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapeoutops/internal/config"
	"tapeoutops/internal/db"
	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
	"tapeoutops/internal/logging"
	"tapeoutops/internal/migrate"
	"tapeoutops/internal/storage"
)

const apiBase = "/api/v1"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) api(path string) string { return s.URL + apiBase + path }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	dataDir := t.TempDir()
	if err := db.EnsureDataDir(dataDir); err != nil {
		t.Fatalf("ensure data dir: %v", err)
	}
	conn, err := db.Open(db.Config{DataDir: dataDir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	publicURL := "http://" + ln.Addr().String()
	secret := []byte("test-signing-secret")
	docs, err := storage.NewLocalStore(filepath.Join(dataDir, "documents"), publicURL, secret)
	if err != nil {
		t.Fatalf("document store: %v", err)
	}
	evidence, err := storage.NewLocalStore(filepath.Join(dataDir, "evidence"), publicURL+"/evidence", secret)
	if err != nil {
		t.Fatalf("evidence store: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, engine.Deps{Documents: docs, Evidence: evidence, Logger: logging.Discard()})
	handler, err := New(Config{
		Engine:   e,
		BasePath: apiBase,
		Files:    []FileMount{{Store: docs}, {Prefix: "/evidence", Store: evidence}},
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    publicURL,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(t, client, req)
}

func doMultipart(t *testing.T, client *http.Client, url string, fields map[string]string, filename, content string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(t, client, req)
}

func send(t *testing.T, client *http.Client, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func requireError(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	require.Equal(t, status, res.StatusCode, string(data))
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, code, env.Error.Code)
}

// signupAndLogin returns bearer headers for a fresh account.
func signupAndLogin(t *testing.T, srv *testServer, email string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.api("/auth/signup"), map[string]any{
		"email":     email,
		"password":  "password123",
		"full_name": "Test User",
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.api("/auth/login"), map[string]any{
		"email":    email,
		"password": "password123",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	tok := decode[TokenResponse](t, data)
	require.NotEmpty(t, tok.AccessToken)
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}
}

func createProject(t *testing.T, srv *testServer, headers map[string]string) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.api("/companies"), map[string]any{"name": "Acme Silicon"}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	company := decode[domain.Company](t, data)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.api("/projects"), map[string]any{
		"name":       "Tapeout A",
		"company_id": company.ID,
	}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return decode[domain.Project](t, data)
}

func uploadSpec(t *testing.T, srv *testServer, headers map[string]string, projectID, content string) SpecResponse {
	t.Helper()
	res, data := doMultipart(t, srv.Client(), srv.api("/specs"), map[string]string{
		"project_id": projectID,
		"name":       "PLL",
		"version":    "1.0.0",
		"metadata":   `{"node":"7nm"}`,
	}, "pll.json", content, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return decode[SpecResponse](t, data)
}

func TestSignupLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	headers := signupAndLogin(t, srv, "admin@example.com")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.api("/users/me"), nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[domain.User](t, data)
	assert.Equal(t, "admin@example.com", me.Email)
	assert.Equal(t, domain.RoleAdmin, me.Role)
	assert.NotContains(t, string(data), "password")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/users/me"), nil, nil)
	requireError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/users/me"), nil, map[string]string{"Authorization": "Bearer nope"})
	requireError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.api("/auth/login"), map[string]any{
		"email": "admin@example.com", "password": "wrong-password",
	}, nil)
	requireError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.api("/auth/signup"), map[string]any{
		"email": "ADMIN@example.com", "password": "password123",
	}, nil)
	requireError(t, res, data, http.StatusConflict, "conflict")
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := signupAndLogin(t, srv, "admin@example.com")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.api("/api-keys"), map[string]any{"name": "ci"}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	created := decode[APIKeyCreatedResponse](t, data)
	require.NotEmpty(t, created.Key)

	keyHeaders := map[string]string{"X-Api-Key": created.Key}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/users/me"), nil, keyHeaders)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.api("/api-keys/"+created.ID), nil, headers)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/users/me"), nil, keyHeaders)
	requireError(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestSpecUploadLintAndSignedLink(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := signupAndLogin(t, srv, "owner@example.com")
	p := createProject(t, srv, headers)

	content := `{"name":"PLL"}`
	spec := uploadSpec(t, srv, headers, p.ID, content)
	assert.Equal(t, domain.SpecDraft, spec.Status)
	assert.Equal(t, "specs/"+p.ID+"/1.0.0/pll.json", spec.FilePath)
	assert.Equal(t, "owner@example.com", spec.OwnerEmail)
	assert.Equal(t, "7nm", spec.Metadata["node"])
	require.NotEmpty(t, spec.FileURL)

	res, data := send(t, srv.Client(), mustRequest(t, http.MethodGet, spec.FileURL))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, content, string(data))

	tampered := strings.Replace(spec.FileURL, "sig=", "sig=00", 1)
	res, data = send(t, srv.Client(), mustRequest(t, http.MethodGet, tampered))
	requireError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doMultipart(t, srv.Client(), srv.api("/specs"), map[string]string{
		"project_id": p.ID, "name": "PLL again", "version": "1.0.0",
	}, "pll.json", content, headers)
	requireError(t, res, data, http.StatusConflict, "conflict")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.api("/specs/"+spec.ID+"/lint"), nil, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	lintRes := decode[domain.LintResult](t, data)
	require.NotEmpty(t, lintRes.Issues)
	assert.Equal(t, spec.ID, lintRes.SpecID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/specs/"+spec.ID+"/lint-results"), nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	history := decode[LintResultListResponse](t, data)
	require.Len(t, history.Items, 1)
	assert.Empty(t, history.NextCursor)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/notifications?unread=true"), nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	notes := decode[NotificationListResponse](t, data)
	require.Len(t, notes.Items, 1)
	assert.Equal(t, "lint", notes.Items[0].Type)
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := signupAndLogin(t, srv, "owner@example.com")
	stranger := signupAndLogin(t, srv, "stranger@example.com")
	p := createProject(t, srv, owner)
	spec := uploadSpec(t, srv, owner, p.ID, `{"name":"PLL","version":"1.0.0"}`)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.api("/specs/"+spec.ID), map[string]any{"name": "Hijacked"}, stranger)
	requireError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.api("/specs/"+spec.ID), nil, stranger)
	requireError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/specs/does-not-exist"), nil, stranger)
	requireError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.api("/specs/"+spec.ID), map[string]any{"status": "shipped"}, owner)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/projects/"+p.ID+"/specs?cursor=garbage"), nil, owner)
	requireError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.api("/specs/"+spec.ID), map[string]any{"name": "PLL v2"}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "PLL v2", decode[SpecResponse](t, data).Name)
}

func TestSpecListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := signupAndLogin(t, srv, "owner@example.com")
	p := createProject(t, srv, owner)
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		res, data := doMultipart(t, srv.Client(), srv.api("/specs"), map[string]string{
			"project_id": p.ID, "name": "PLL", "version": v,
		}, "pll.json", `{}`, owner)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	seen := map[string]bool{}
	cursor := ""
	for i := 0; i < 3; i++ {
		url := srv.api("/projects/" + p.ID + "/specs?limit=2")
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, owner)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		page := decode[SpecListResponse](t, data)
		for _, s := range page.Items {
			assert.False(t, seen[s.ID], "spec %s returned twice", s.ID)
			seen[s.ID] = true
		}
		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}
	assert.Len(t, seen, 3)
}

func TestChecklistFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	admin := signupAndLogin(t, srv, "admin@example.com")
	engineer := signupAndLogin(t, srv, "engineer@example.com")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.api("/users/me"), nil, engineer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	eng := decode[domain.User](t, data)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.api("/checklist-templates"), map[string]any{
		"name":  "Signoff",
		"items": []map[string]any{{"title": "DRC", "order": 1}, {"title": "LVS", "order": 2}},
	}, admin)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	tmpl := decode[domain.ChecklistTemplate](t, data)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.api("/checklists"), map[string]any{"template_id": tmpl.ID}, admin)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	cl := decode[ChecklistResponse](t, data)
	require.Len(t, cl.Items, 2)
	item := cl.Items[0]

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.api("/checklist-items/"+item.ID+"/assign"), map[string]any{"user_id": eng.ID}, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doMultipart(t, srv.Client(), srv.api("/checklist-items/"+item.ID+"/evidence"), nil, "drc.pdf", "%PDF-1.4", engineer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	uploaded := decode[domain.ActiveChecklistItem](t, data)
	require.NotNil(t, uploaded.EvidenceFilePath)

	res, data = doMultipart(t, srv.Client(), srv.api("/checklist-items/"+item.ID+"/evidence"), nil, "drc.exe", "MZ", engineer)
	requireError(t, res, data, http.StatusBadRequest, "validation_error")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/checklist-items/"+item.ID+"/evidence"), nil, engineer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	link := decode[URLResponse](t, data)
	res, data = send(t, srv.Client(), mustRequest(t, http.MethodGet, link.URL))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "%PDF-1.4", string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.api("/checklist-items/"+item.ID), map[string]any{"status": "done"}, engineer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/checklists/"+cl.ID+"/completion"), nil, engineer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.InDelta(t, 50.0, decode[CompletionResponse](t, data).Completion, 0.001)
}

func TestReportExport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := signupAndLogin(t, srv, "owner@example.com")
	createProject(t, srv, owner)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.api("/reports/projects"), nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, 1, decode[domain.ProjectReport](t, data).TotalProjects)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/reports/projects/export?format=csv"), nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "text/csv", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "projects-report-")
	assert.Contains(t, string(data), "total_projects,1")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/reports/projects/export?format=pdf"), nil, owner)
	requireError(t, res, data, http.StatusNotImplemented, "not_implemented")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/reports/usage"), nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	other := signupAndLogin(t, srv, "engineer@example.com")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/reports/usage"), nil, other)
	requireError(t, res, data, http.StatusForbidden, "forbidden")
}

func TestSearchAndDashboardOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := signupAndLogin(t, srv, "owner@example.com")
	p := createProject(t, srv, owner)
	spec := uploadSpec(t, srv, owner, p.ID, `{"name":"PLL"}`)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.api("/search?q=pl"), nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	found := decode[domain.SearchResults](t, data)
	require.Len(t, found.Specs, 1)
	assert.Equal(t, spec.ID, found.Specs[0].ID)
	assert.NotNil(t, found.Companies)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/search"), nil, owner)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/dashboard/stats"), nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	stats := decode[domain.DashboardStats](t, data)
	assert.Equal(t, 1, stats.ActiveSpecs)
	assert.Equal(t, 0, stats.PendingReviews)
	assert.Equal(t, 1, stats.TotalProjects)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/dashboard/stats"), nil, nil)
	requireError(t, res, data, http.StatusUnauthorized, "unauthorized")
}

func TestOpenAPIAndHealthArePublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.api("/health"), nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.api("/openapi.json"), nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, string(data), "bearerAuth")
	assert.Contains(t, string(data), "apiKeyAuth")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "tapeoutops_http_requests_total")
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return req
}
