package types

import "time"

// Roles recognized by the authorization layer.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ValidRole reports whether role is one of the recognized roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Role indicates the user's authorization level within the
	// system ("admin" or "user").
	Role string `json:"role" db:"role"`

	// IsActive reports whether the account may authenticate.
	IsActive bool `json:"is_active" db:"is_active"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserFilters narrows user listing and search queries.
type UserFilters struct {
	Query         string
	Role          string
	IsActive      *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Skip          int
	Limit         int
	SortBy        string
	SortOrder     string
}

// PageInfo describes the position of a result page within the full set.
type PageInfo struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// UserSearchResult is a page of users plus pagination bookkeeping.
type UserSearchResult struct {
	Users      []User   `json:"users"`
	TotalCount int      `json:"total_count"`
	PageInfo   PageInfo `json:"page_info"`
}

// BulkFailure records why a single user in a bulk operation was skipped.
type BulkFailure struct {
	UserID int    `json:"user_id"`
	Error  string `json:"error"`
}

// BulkResult summarizes a bulk activate/deactivate operation.
type BulkResult struct {
	Successful     []int         `json:"successful"`
	Failed         []BulkFailure `json:"failed"`
	TotalProcessed int           `json:"total_processed"`
	SuccessCount   int           `json:"success_count"`
	FailureCount   int           `json:"failure_count"`
}

// RecentRegistrations counts sign-ups over trailing windows.
type RecentRegistrations struct {
	Today     int `json:"today"`
	ThisWeek  int `json:"this_week"`
	ThisMonth int `json:"this_month"`
}

// GrowthPoint is one day in the user growth series.
type GrowthPoint struct {
	Date       string `json:"date"`
	TotalUsers int    `json:"total_users"`
	NewUsers   int    `json:"new_users"`
}

// DashboardStats aggregates the admin dashboard counters.
type DashboardStats struct {
	TotalUsers          int                 `json:"total_users"`
	ActiveUsers         int                 `json:"active_users"`
	InactiveUsers       int                 `json:"inactive_users"`
	AdminUsers          int                 `json:"admin_users"`
	RecentRegistrations RecentRegistrations `json:"recent_registrations"`
	UserGrowth          []GrowthPoint       `json:"user_growth"`
}
