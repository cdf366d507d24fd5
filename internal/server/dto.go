package server

import (
	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
)

// Request payloads

type SignupRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8"`
	FullName string `json:"full_name,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password" minLength:"8"`
}

type UpdateUserRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Role     *string `json:"role,omitempty" enum:"admin,engineer,pm"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateCompanyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type UpdateCompanyRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CompanyID   string `json:"company_id"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type UpdateSpecRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Status      *string         `json:"status,omitempty" enum:"draft,review,approved,archived"`
	Metadata    *map[string]any `json:"metadata,omitempty"`
}

type TemplateItemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order,omitempty"`
}

type CreateTemplateRequest struct {
	Name  string                `json:"name"`
	Items []TemplateItemRequest `json:"items,omitempty"`
}

type CreateChecklistRequest struct {
	TemplateID   string  `json:"template_id"`
	LinkedSpecID *string `json:"linked_spec_id,omitempty"`
}

type SetChecklistStatusRequest struct {
	Status string `json:"status" enum:"active,completed,archived"`
}

type UpdateItemRequest struct {
	Status           *string `json:"status,omitempty" enum:"pending,in_progress,done"`
	Comment          *string `json:"comment,omitempty"`
	AssignedToUserID *string `json:"assigned_to_user_id,omitempty"`
}

type AssignItemRequest struct {
	UserID string `json:"user_id"`
}

type CreateCommentRequest struct {
	Content    string `json:"content"`
	EntityType string `json:"entity_type" enum:"spec,project,lint_result"`
	EntityID   string `json:"entity_id"`
}

type UpdateCommentRequest struct {
	Content string `json:"content"`
}

type UpdatePreferenceRequest struct {
	InApp *bool `json:"in_app,omitempty"`
	Email *bool `json:"email,omitempty"`
}

// Response payloads

type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   string      `json:"expires_at" format:"date-time"`
	User        domain.User `json:"user"`
}

type APIKeyCreatedResponse struct {
	domain.APIKey
	Key string `json:"key"`
}

type SpecResponse struct {
	domain.Spec
	FileURL    string `json:"file_url,omitempty"`
	OwnerEmail string `json:"owner_email,omitempty"`
}

type SpecListResponse struct {
	Items      []domain.Spec `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type LintResultListResponse struct {
	Items      []domain.LintResult `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type ChecklistResponse struct {
	domain.ActiveChecklist
	Completion float64 `json:"completion"`
}

type ChecklistListResponse struct {
	Items      []domain.ActiveChecklist `json:"items"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

type CompletionResponse struct {
	ChecklistID string  `json:"checklist_id"`
	Completion  float64 `json:"completion"`
}

type URLResponse struct {
	URL string `json:"url"`
}

type NotificationListResponse struct {
	Items      []domain.Notification `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type MarkedResponse struct {
	Updated int64 `json:"updated"`
}

type AuditListResponse struct {
	Items      []domain.AuditEvent `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func tokenResponse(t engine.Token, u domain.User) TokenResponse {
	return TokenResponse{AccessToken: t.AccessToken, TokenType: t.TokenType, ExpiresAt: t.ExpiresAt, User: u}
}

// specResponse decorates a spec with a signed document link and the company
// owner's e-mail. Both are best effort.
func specResponse(s domain.Spec, fileURL, ownerEmail string) SpecResponse {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return SpecResponse{Spec: s, FileURL: fileURL, OwnerEmail: ownerEmail}
}

func checklistResponse(c domain.ActiveChecklist, completion float64) ChecklistResponse {
	c.Items = nonNilSlice(c.Items)
	return ChecklistResponse{ActiveChecklist: c, Completion: completion}
}

func lintResultResponse(r domain.LintResult) domain.LintResult {
	r.Issues = nonNilSlice(r.Issues)
	return r
}

func mapLintResults(items []domain.LintResult) []domain.LintResult {
	out := make([]domain.LintResult, 0, len(items))
	for _, r := range items {
		out = append(out, lintResultResponse(r))
	}
	return out
}

func templateResponse(t domain.ChecklistTemplate) domain.ChecklistTemplate {
	t.Items = nonNilSlice(t.Items)
	return t
}

func mapTemplates(items []domain.ChecklistTemplate) []domain.ChecklistTemplate {
	out := make([]domain.ChecklistTemplate, 0, len(items))
	for _, t := range items {
		out = append(out, templateResponse(t))
	}
	return out
}

func (r CreateTemplateRequest) input() engine.TemplateInput {
	in := engine.TemplateInput{Name: r.Name}
	for _, it := range r.Items {
		in.Items = append(in.Items, engine.TemplateItemInput{Title: it.Title, Description: it.Description, Order: it.Order})
	}
	return in
}
