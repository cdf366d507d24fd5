package domain

const (
	RoleAdmin    = "admin"
	RoleEngineer = "engineer"
	RolePM       = "pm"
)

const (
	SpecDraft    = "draft"
	SpecReview   = "review"
	SpecApproved = "approved"
	SpecArchived = "archived"
)

const (
	ItemPending    = "pending"
	ItemInProgress = "in_progress"
	ItemDone       = "done"
)

const (
	ChecklistActive    = "active"
	ChecklistCompleted = "completed"
	ChecklistArchived  = "archived"
)

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID string
	Email  string
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	FullName     string `json:"full_name,omitempty"`
	Role         string `json:"role" enum:"admin,engineer,pm"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

func (u User) Actor() Actor {
	return Actor{UserID: u.ID, Email: u.Email, Role: u.Role}
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Company struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CompanyID   string `json:"company_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Spec struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version"`
	Status      string         `json:"status" enum:"draft,review,approved,archived"`
	ProjectID   string         `json:"project_id"`
	AuthorID    string         `json:"author_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	FilePath    string         `json:"file_path"`
	ApprovedBy  *string        `json:"approved_by,omitempty"`
	RejectedBy  *string        `json:"rejected_by,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type LintIssue struct {
	Severity    string `json:"severity" enum:"error,warning,info"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	Location    string `json:"location"`
	Remediation string `json:"remediation,omitempty"`
}

type LintResult struct {
	ID        string         `json:"id"`
	SpecID    string         `json:"spec_id"`
	Issues    []LintIssue    `json:"issues"`
	Summary   string         `json:"summary"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type ChecklistTemplate struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	CreatedBy string                  `json:"created_by"`
	Items     []ChecklistTemplateItem `json:"items"`
	CreatedAt string                  `json:"created_at" format:"date-time"`
}

type ChecklistTemplateItem struct {
	ID          string `json:"id"`
	TemplateID  string `json:"template_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order"`
}

type ActiveChecklist struct {
	ID           string                `json:"id"`
	TemplateID   string                `json:"template_id"`
	Name         string                `json:"name"`
	LinkedSpecID *string               `json:"linked_spec_id,omitempty"`
	CreatedBy    string                `json:"created_by"`
	Status       string                `json:"status" enum:"active,completed,archived"`
	Items        []ActiveChecklistItem `json:"items,omitempty"`
	CreatedAt    string                `json:"created_at" format:"date-time"`
	UpdatedAt    string                `json:"updated_at" format:"date-time"`
}

type ActiveChecklistItem struct {
	ID               string  `json:"id"`
	ChecklistID      string  `json:"checklist_id"`
	TemplateItemID   string  `json:"template_item_id"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	Order            int     `json:"order"`
	Status           string  `json:"status" enum:"pending,in_progress,done"`
	Comment          *string `json:"comment,omitempty"`
	EvidenceFilePath *string `json:"evidence_file_path,omitempty"`
	AssignedToUserID *string `json:"assigned_to_user_id,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

type Comment struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorID   string `json:"author_id"`
	EntityType string `json:"entity_type" enum:"spec,project,lint_result"`
	EntityID   string `json:"entity_id"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Notification struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Read       bool   `json:"read"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type NotificationPreference struct {
	UserID string `json:"user_id"`
	Type   string `json:"type" enum:"comment,assignment,lint,spec_status"`
	InApp  bool   `json:"in_app"`
	Email  bool   `json:"email"`
}

// NotificationTypes lists every type a preference can be stored for.
var NotificationTypes = []string{"comment", "assignment", "lint", "spec_status"}

type AuditEvent struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	ActorID      string `json:"actor_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	Action       string `json:"action"`
	Outcome      string `json:"outcome" enum:"success,failure"`
	Payload      string `json:"payload_json"`
}
