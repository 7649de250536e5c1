package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdauth/apiserver/internal/alerts"
	"github.com/jdauth/apiserver/types"
)

// AuditRepository defines persistence operations for audit events.
type AuditRepository interface {
	Insert(ctx context.Context, event types.AuditEvent) (int64, error)
	List(ctx context.Context, filters types.AuditFilters) ([]types.AuditEvent, int, error)
	CountByAction(ctx context.Context, since time.Time) (map[string]int, error)
	CountBySeverity(ctx context.Context, since time.Time) (map[string]int, error)
}

// AuditService records audit events and answers audit queries. Recording is
// best-effort: a failed insert is logged and never propagated, so auditing can
// never fail the operation being audited.
type AuditService struct {
	repo   AuditRepository
	alerts *alerts.Publisher
	logger *slog.Logger

	now func() time.Time
}

// NewAuditService constructs an AuditService. The alerts publisher may be nil
// when no broker is configured.
func NewAuditService(repo AuditRepository, publisher *alerts.Publisher, logger *slog.Logger) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{
		repo:   repo,
		alerts: publisher,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *AuditService) SetClock(now func() time.Time) {
	s.now = now
}

// Record persists an audit event, filling in defaults for timestamp,
// severity, status and description when the caller left them empty.
func (s *AuditService) Record(ctx context.Context, event types.AuditEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = types.SeverityInfo
	}
	if event.Status == "" {
		event.Status = types.AuditStatusSuccess
	}
	if event.Description == "" {
		event.Description = autoDescription(event)
	}

	if _, err := s.repo.Insert(ctx, event); err != nil {
		s.logger.Error("failed to record audit event",
			"action", event.Action,
			"username", event.Username,
			"error", err)
		return
	}

	if event.SecurityFlag != "" && s.alerts != nil {
		if _, err := s.alerts.PublishEvent(ctx, event); err != nil {
			s.logger.Error("failed to publish security alert",
				"action", event.Action,
				"error", err)
		}
	}
}

// List returns a page of audit events matching the filters plus the total
// match count.
func (s *AuditService) List(ctx context.Context, filters types.AuditFilters) (types.AuditSearchResult, error) {
	events, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return types.AuditSearchResult{}, err
	}
	if events == nil {
		events = []types.AuditEvent{}
	}
	return types.AuditSearchResult{Events: events, TotalCount: total}, nil
}

// SecuritySummary aggregates security-flagged events over the trailing
// window.
func (s *AuditService) SecuritySummary(ctx context.Context, window time.Duration) (types.SecuritySummary, error) {
	since := s.now().UTC().Add(-window)

	byAction, err := s.repo.CountByAction(ctx, since)
	if err != nil {
		return types.SecuritySummary{}, err
	}
	bySeverity, err := s.repo.CountBySeverity(ctx, since)
	if err != nil {
		return types.SecuritySummary{}, err
	}

	total := 0
	for _, n := range byAction {
		total += n
	}

	recent, _, err := s.repo.List(ctx, types.AuditFilters{
		SecurityOnly: true,
		CreatedAfter: &since,
		Limit:        10,
	})
	if err != nil {
		return types.SecuritySummary{}, err
	}
	if recent == nil {
		recent = []types.AuditEvent{}
	}

	return types.SecuritySummary{
		TimeWindowHours:     int(window.Hours()),
		TotalSecurityEvents: total,
		FailedLogins:        byAction[types.ActionLoginFailed],
		RateLimitViolations: byAction[types.ActionRateLimitExceeded],
		EventTypes:          byAction,
		SeverityCounts:      bySeverity,
		RecentEvents:        recent,
	}, nil
}

// autoDescription derives a human-readable description from the event when
// the caller did not supply one.
func autoDescription(event types.AuditEvent) string {
	target := event.ResourceID
	if name, ok := event.Details["target_username"].(string); ok && name != "" {
		return userActionDescription(event.Action, fmt.Sprintf("user '%s'", name))
	}
	if target != "" {
		return userActionDescription(event.Action, fmt.Sprintf("user (ID: %s)", target))
	}

	switch event.Action {
	case types.ActionLoginSuccess:
		return fmt.Sprintf("Successful login for user '%s'", event.Username)
	case types.ActionLoginFailed:
		return fmt.Sprintf("Failed login attempt for user '%s'", event.Username)
	case types.ActionTokenRefresh:
		return fmt.Sprintf("Token refreshed for user '%s'", event.Username)
	case types.ActionRateLimitExceeded:
		return fmt.Sprintf("Rate limit exceeded for %s", event.Path)
	case types.ActionAccountLockout:
		return fmt.Sprintf("Account locked for user '%s' after repeated failures", event.Username)
	case types.ActionSuspiciousActivity:
		return "Suspicious activity detected"
	case types.ActionViewAuditLogs:
		return fmt.Sprintf("Admin '%s' viewed audit logs", event.Username)
	case types.ActionExportData:
		return fmt.Sprintf("Admin '%s' exported user data", event.Username)
	case types.ActionAccessAdminDashboard:
		return fmt.Sprintf("Admin '%s' accessed the dashboard", event.Username)
	}
	return fmt.Sprintf("Admin '%s' performed %s", event.Username, event.Action)
}

func userActionDescription(action, target string) string {
	switch action {
	case types.ActionCreateUser:
		return "Created new " + target
	case types.ActionUpdateUser:
		return "Updated " + target
	case types.ActionDeleteUser:
		return "Deleted " + target
	case types.ActionChangeUserRole:
		return "Changed role for " + target
	case types.ActionSetUserStatus:
		return "Changed status for " + target
	case types.ActionBulkActivateUsers:
		return "Bulk activated users"
	case types.ActionBulkDeactivateUsers:
		return "Bulk deactivated users"
	}
	return fmt.Sprintf("%s on %s", action, target)
}
