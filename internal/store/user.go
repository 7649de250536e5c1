package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jdauth/apiserver/types"
	"github.com/lib/pq"
)

// Postgres unique_violation.
const pqUniqueViolation = "23505"

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, username, role, is_active, password_hash, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Role,
		&user.IsActive,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE username = $1`, userColumns)
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (username, role, is_active, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Role,
		user.IsActive,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, mapUniqueViolation(err)
	}
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now()

	const query = `
		UPDATE users
		SET username = $1,
			role = $2,
			is_active = $3,
			password_hash = $4,
			updated_at = $5
		WHERE id = $6`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Username,
		user.Role,
		user.IsActive,
		user.PasswordHash,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, mapUniqueViolation(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Search returns the page of users matching filters plus the unpaginated
// match count.
func (r *UserRepository) Search(ctx context.Context, filters types.UserFilters) ([]types.User, int, error) {
	where, args := buildUserWhere(filters)

	countQuery := "SELECT COUNT(*) FROM users" + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM users%s ORDER BY %s %s OFFSET $%d LIMIT $%d",
		userColumns,
		where,
		sortColumn(filters.SortBy),
		sortDirection(filters.SortOrder),
		len(args)+1,
		len(args)+2,
	)
	args = append(args, filters.Skip, filters.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// SetActive flips a user's is_active flag.
func (r *UserRepository) SetActive(ctx context.Context, id int, active bool) error {
	const query = `UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of users matching the optional role and is_active
// filters.
func (r *UserRepository) Count(ctx context.Context, filters types.UserFilters) (int, error) {
	where, args := buildUserWhere(filters)
	var total int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total)
	return total, err
}

// CountCreatedSince returns the number of users created at or after t.
func (r *UserRepository) CountCreatedSince(ctx context.Context, t time.Time) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= $1`, t).Scan(&total)
	return total, err
}

// CountCreatedBefore returns the number of users created strictly before t.
func (r *UserRepository) CountCreatedBefore(ctx context.Context, t time.Time) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE created_at < $1`, t).Scan(&total)
	return total, err
}

// DailyRegistration is one day's sign-up count.
type DailyRegistration struct {
	Date  string
	Count int
}

// DailyRegistrations returns per-day sign-up counts for users created at or
// after since, ordered by date.
func (r *UserRepository) DailyRegistrations(ctx context.Context, since time.Time) ([]DailyRegistration, error) {
	const query = `
		SELECT TO_CHAR(created_at::date, 'YYYY-MM-DD') AS day, COUNT(id)
		FROM users
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []DailyRegistration
	for rows.Next() {
		var day DailyRegistration
		if err := rows.Scan(&day.Date, &day.Count); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

func buildUserWhere(filters types.UserFilters) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filters.Query != "" {
		add("username ILIKE $%d", "%"+filters.Query+"%")
	}
	if filters.Role != "" {
		add("role = $%d", filters.Role)
	}
	if filters.IsActive != nil {
		add("is_active = $%d", *filters.IsActive)
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

// sortColumn whitelists sortable columns; anything else sorts by created_at.
func sortColumn(field string) string {
	switch field {
	case "id", "username", "role", "is_active", "created_at", "updated_at":
		return field
	default:
		return "created_at"
	}
}

func sortDirection(order string) string {
	if strings.EqualFold(order, "asc") {
		return "ASC"
	}
	return "DESC"
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrDuplicateUsername
	}
	return err
}
