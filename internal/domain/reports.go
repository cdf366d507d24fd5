package domain

// KeyCount is one bucket of a grouped count.
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type RecentProject struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Company   string `json:"company"`
	SpecCount int    `json:"spec_count"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectReport struct {
	TotalProjects  int             `json:"total_projects"`
	ActiveProjects int             `json:"active_projects"`
	ByCompany      []KeyCount      `json:"projects_by_company"`
	Recent         []RecentProject `json:"recent_projects"`
}

type RecentSpec struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Project   string `json:"project"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type SpecReport struct {
	TotalSpecs    int          `json:"total_specs"`
	ByStatus      []KeyCount   `json:"specs_by_status"`
	ByProject     []KeyCount   `json:"specs_by_project"`
	RecentUpdates []RecentSpec `json:"recent_updates"`
}

type LintReport struct {
	TotalResults int        `json:"total_results"`
	TotalIssues  int        `json:"total_issues"`
	BySeverity   []KeyCount `json:"issues_by_severity"`
	ByType       []KeyCount `json:"issues_by_type"`
	OverTime     []KeyCount `json:"results_over_time"`
	TopProjects  []KeyCount `json:"top_projects"`
}

type CommentReport struct {
	TotalComments int        `json:"total_comments"`
	ByEntity      []KeyCount `json:"comments_by_entity"`
	OverTime      []KeyCount `json:"comments_over_time"`
	TopCommenters []KeyCount `json:"most_active_users"`
}

type UsageReport struct {
	TotalUsers    int        `json:"total_users"`
	ActiveUsers   int        `json:"active_users"`
	UsersByRole   []KeyCount `json:"users_by_role"`
	Companies     int        `json:"companies"`
	Projects      int        `json:"projects"`
	Specs         int        `json:"specs"`
	LintRuns      int        `json:"lint_runs"`
	Comments      int        `json:"comments"`
	Checklists    int        `json:"checklists"`
	ItemsByStatus []KeyCount `json:"checklist_items_by_status"`
}

// DashboardStats is the landing-page summary of spec activity.
type DashboardStats struct {
	ActiveSpecs    int `json:"active_specs"`
	PendingReviews int `json:"pending_reviews"`
	ApprovedSpecs  int `json:"approved_specs"`
	TotalProjects  int `json:"total_projects"`
}

// SearchResults groups name matches by entity kind.
type SearchResults struct {
	Companies []Company `json:"companies"`
	Projects  []Project `json:"projects"`
	Specs     []Spec    `json:"specs"`
}
