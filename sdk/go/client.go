package tapeoutopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal TapeOutOps HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api/v1",
		Timeout:  30 * time.Second,
	}
}

// Spec represents the API specification model (partial).
type Spec struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version"`
	Status      string         `json:"status"`
	ProjectID   string         `json:"project_id"`
	AuthorID    string         `json:"author_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	FilePath    string         `json:"file_path"`
	FileURL     string         `json:"file_url,omitempty"`
	OwnerEmail  string         `json:"owner_email,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// LintIssue is one finding of a lint run.
type LintIssue struct {
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	Location    string `json:"location"`
	Remediation string `json:"remediation,omitempty"`
}

// LintResult is a stored lint run.
type LintResult struct {
	ID        string      `json:"id"`
	SpecID    string      `json:"spec_id"`
	Issues    []LintIssue `json:"issues"`
	Summary   string      `json:"summary"`
	CreatedAt string      `json:"created_at"`
}

// Comment on a spec, project or lint result.
type Comment struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorID   string `json:"author_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	CreatedAt  string `json:"created_at"`
}

// User is the authenticated account.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// Token is returned by Login.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	User        User   `json:"user"`
}

// SpecUpload describes a document to push.
type SpecUpload struct {
	ProjectID   string
	Name        string
	Version     string
	Description string
	Metadata    map[string]any
	Filename    string
	Content     io.Reader
}

// Export is a downloaded report file.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedLintResults wraps list responses with cursors.
type PaginatedLintResults struct {
	Items      []LintResult `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (Token, error) {
	var resp Token
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]any{"email": email, "password": password}, &resp)
	if err == nil {
		c.BearerToken = resp.AccessToken
	}
	return resp, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "users/me", nil, &resp)
	return resp, err
}

// UploadSpec pushes a specification document as a new draft.
func (c *Client) UploadSpec(ctx context.Context, in SpecUpload) (Spec, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"project_id":  in.ProjectID,
		"name":        in.Name,
		"version":     in.Version,
		"description": in.Description,
	}
	if in.Metadata != nil {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return Spec{}, err
		}
		fields["metadata"] = string(b)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return Spec{}, err
		}
	}
	fw, err := w.CreateFormFile("file", in.Filename)
	if err != nil {
		return Spec{}, err
	}
	if _, err := io.Copy(fw, in.Content); err != nil {
		return Spec{}, err
	}
	if err := w.Close(); err != nil {
		return Spec{}, err
	}
	var resp Spec
	err = c.send(ctx, http.MethodPost, "specs", w.FormDataContentType(), &buf, func(r *http.Response) error {
		return json.NewDecoder(r.Body).Decode(&resp)
	})
	return resp, err
}

// GetSpec fetches a spec with a signed document link.
func (c *Client) GetSpec(ctx context.Context, id string) (Spec, error) {
	var resp Spec
	err := c.do(ctx, http.MethodGet, "specs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// LintSpec lints the stored document and returns the new result.
func (c *Client) LintSpec(ctx context.Context, id string) (LintResult, error) {
	var resp LintResult
	err := c.do(ctx, http.MethodPost, "specs/"+url.PathEscape(id)+"/lint", nil, &resp)
	return resp, err
}

// LintResultsPage returns a page of a spec's lint history, newest first.
func (c *Client) LintResultsPage(ctx context.Context, specID string, limit int, cursor string) (PaginatedLintResults, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "specs/" + url.PathEscape(specID) + "/lint-results"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedLintResults
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Comment posts a comment on an entity.
func (c *Client) Comment(ctx context.Context, entityType, entityID, content string) (Comment, error) {
	body := map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"content":     content,
	}
	var resp Comment
	err := c.do(ctx, http.MethodPost, "comments", body, &resp)
	return resp, err
}

// ExportReport downloads a report as csv or xlsx.
func (c *Client) ExportReport(ctx context.Context, kind, format string) (Export, error) {
	endpoint := fmt.Sprintf("reports/%s/export?format=%s", url.PathEscape(kind), url.QueryEscape(format))
	var out Export
	err := c.send(ctx, http.MethodGet, endpoint, "", nil, func(r *http.Response) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		out.Data = data
		out.ContentType = r.Header.Get("Content-Type")
		if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition")); err == nil {
			out.Filename = params["filename"]
		}
		return nil
	})
	return out, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, func(r *http.Response) error {
		if out == nil || r.StatusCode == http.StatusNoContent {
			return nil
		}
		return json.NewDecoder(r.Body).Decode(out)
	})
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, read func(*http.Response) error) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	return read(resp)
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
