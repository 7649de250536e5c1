package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jdauth/apiserver/types"
)

// AuditRepository handles persistence for audit events. Events are
// append-only: there is deliberately no update or delete here.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `id, action, resource_type, resource_id, user_id, username,
		ip_address, user_agent, request_method, request_path, description,
		details, status, error_message, is_security_event, severity_level, created_at`

// Insert appends an event and returns its assigned id.
func (r *AuditRepository) Insert(ctx context.Context, event types.AuditEvent) (int64, error) {
	var details []byte
	if event.Details != nil {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return 0, fmt.Errorf("marshal audit details: %w", err)
		}
		details = encoded
	}

	const query = `
		INSERT INTO audit_logs (
			action, resource_type, resource_id, user_id, username,
			ip_address, user_agent, request_method, request_path, description,
			details, status, error_message, is_security_event, severity_level, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(
		ctx,
		query,
		event.Action,
		event.ResourceType,
		nullString(event.ResourceID),
		event.UserID,
		nullString(event.Username),
		nullString(event.IPAddress),
		nullString(event.UserAgent),
		nullString(event.Method),
		nullString(event.Path),
		event.Description,
		details,
		event.Status,
		nullString(event.ErrorMessage),
		nullString(event.SecurityFlag),
		event.Severity,
		event.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// List returns the page of events matching filters, newest first, plus the
// unpaginated match count.
func (r *AuditRepository) List(ctx context.Context, filters types.AuditFilters) ([]types.AuditEvent, int, error) {
	where, args := buildAuditWhere(filters)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM audit_logs%s ORDER BY created_at DESC OFFSET $%d LIMIT $%d",
		auditColumns, where, len(args)+1, len(args)+2)
	args = append(args, filters.Skip, filters.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []types.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// CountByAction returns per-action counts for security-flagged events created
// at or after since.
func (r *AuditRepository) CountByAction(ctx context.Context, since time.Time) (map[string]int, error) {
	const query = `
		SELECT action, COUNT(*)
		FROM audit_logs
		WHERE is_security_event IS NOT NULL AND created_at >= $1
		GROUP BY action`
	return r.countGrouped(ctx, query, since)
}

// CountBySeverity returns per-severity counts for security-flagged events
// created at or after since.
func (r *AuditRepository) CountBySeverity(ctx context.Context, since time.Time) (map[string]int, error) {
	const query = `
		SELECT severity_level, COUNT(*)
		FROM audit_logs
		WHERE is_security_event IS NOT NULL AND created_at >= $1
		GROUP BY severity_level`
	return r.countGrouped(ctx, query, since)
}

func (r *AuditRepository) countGrouped(ctx context.Context, query string, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func scanAuditEvent(rows *sql.Rows) (types.AuditEvent, error) {
	var event types.AuditEvent
	var resourceID, username, ip, userAgent, method, path sql.NullString
	var errorMessage, securityFlag, severity sql.NullString
	var userID sql.NullInt64
	var details []byte

	err := rows.Scan(
		&event.ID,
		&event.Action,
		&event.ResourceType,
		&resourceID,
		&userID,
		&username,
		&ip,
		&userAgent,
		&method,
		&path,
		&event.Description,
		&details,
		&event.Status,
		&errorMessage,
		&securityFlag,
		&severity,
		&event.CreatedAt,
	)
	if err != nil {
		return types.AuditEvent{}, err
	}

	event.ResourceID = resourceID.String
	event.Username = username.String
	event.IPAddress = ip.String
	event.UserAgent = userAgent.String
	event.Method = method.String
	event.Path = path.String
	event.ErrorMessage = errorMessage.String
	event.SecurityFlag = securityFlag.String
	event.Severity = severity.String
	if userID.Valid {
		id := int(userID.Int64)
		event.UserID = &id
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &event.Details); err != nil {
			return types.AuditEvent{}, fmt.Errorf("unmarshal audit details: %w", err)
		}
	}
	return event, nil
}

func buildAuditWhere(filters types.AuditFilters) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	if filters.ResourceType != "" {
		add("resource_type = $%d", filters.ResourceType)
	}
	if filters.UserID != nil {
		add("user_id = $%d", *filters.UserID)
	}
	if filters.Username != "" {
		add("username = $%d", filters.Username)
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}
	if filters.SecurityFlag != "" {
		add("is_security_event = $%d", filters.SecurityFlag)
	}
	if filters.Severity != "" {
		add("severity_level = $%d", filters.Severity)
	}
	if filters.SecurityOnly {
		clauses = append(clauses, "is_security_event IS NOT NULL")
	}
	if filters.CreatedAfter != nil {
		add("created_at >= $%d", *filters.CreatedAfter)
	}
	if filters.CreatedBefore != nil {
		add("created_at <= $%d", *filters.CreatedBefore)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
