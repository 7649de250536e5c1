package types

import "time"

// Audit actions recorded by the service. The string values are stored
// verbatim in the audit_logs table and must stay stable.
const (
	ActionCreateUser     = "CREATE_USER"
	ActionUpdateUser     = "UPDATE_USER"
	ActionDeleteUser     = "DELETE_USER"
	ActionChangeUserRole = "CHANGE_USER_ROLE"
	ActionSetUserStatus  = "SET_USER_STATUS"

	ActionBulkActivateUsers   = "BULK_ACTIVATE_USERS"
	ActionBulkDeactivateUsers = "BULK_DEACTIVATE_USERS"

	ActionLoginSuccess = "LOGIN_SUCCESS"
	ActionLoginFailed  = "LOGIN_FAILED"
	ActionTokenRefresh = "TOKEN_REFRESH"

	ActionRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ActionSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
	ActionAccountLockout     = "ACCOUNT_LOCKOUT"

	ActionViewAuditLogs        = "VIEW_AUDIT_LOGS"
	ActionExportData           = "EXPORT_DATA"
	ActionAccessAdminDashboard = "ACCESS_ADMIN_DASHBOARD"
)

// Audit event statuses.
const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
	AuditStatusError   = "error"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Security event flags. Empty means the event is not security-relevant.
const (
	SecurityFlagSuspicious = "suspicious"
	SecurityFlagCritical   = "critical"
)

// AuditEvent is an immutable record of a security- or administration-relevant
// action. Events are append-only; nothing in the service updates or deletes
// them once written.
type AuditEvent struct {
	ID           int64          `json:"id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	UserID       *int           `json:"user_id,omitempty"`
	Username     string         `json:"username,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Method       string         `json:"request_method,omitempty"`
	Path         string         `json:"request_path,omitempty"`
	Description  string         `json:"description"`
	Details      map[string]any `json:"details,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	SecurityFlag string         `json:"is_security_event,omitempty"`
	Severity     string         `json:"severity_level"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditFilters narrows audit log listing queries.
type AuditFilters struct {
	Action        string
	ResourceType  string
	UserID        *int
	Username      string
	Status        string
	SecurityFlag  string
	Severity      string
	SecurityOnly  bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Skip          int
	Limit         int
}

// AuditSearchResult is a page of audit events plus the unpaginated count.
type AuditSearchResult struct {
	Events     []AuditEvent `json:"events"`
	TotalCount int          `json:"total_count"`
}

// SecuritySummary aggregates recent security events for the admin dashboard.
type SecuritySummary struct {
	TimeWindowHours     int            `json:"time_window_hours"`
	TotalSecurityEvents int            `json:"total_security_events"`
	FailedLogins        int            `json:"failed_logins"`
	RateLimitViolations int            `json:"rate_limit_violations"`
	EventTypes          map[string]int `json:"event_types"`
	SeverityCounts      map[string]int `json:"severity_distribution"`
	RecentEvents        []AuditEvent   `json:"recent_events"`
}
