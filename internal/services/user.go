package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jdauth/apiserver/internal/store"
	"github.com/jdauth/apiserver/types"
)

// Validation errors surfaced as 400/422 responses.
var (
	ErrUsernameLength   = errors.New("username must be between 3 and 50 characters")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	ErrInvalidRole      = errors.New("role must be admin or user")
	ErrSelfModification = errors.New("cannot modify your own account")
	ErrBulkTooLarge     = errors.New("bulk operations are limited to 100 users")
)

// Input bounds.
const (
	usernameMinLen = 3
	usernameMaxLen = 50
	passwordMinLen = 6
	bulkMaxIDs     = 100
	listMaxLimit   = 100
	searchMaxLimit = 1000
)

// UserStore defines persistence operations for user administration.
type UserStore interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id int) error
	Search(ctx context.Context, filters types.UserFilters) ([]types.User, int, error)
	SetActive(ctx context.Context, id int, active bool) error
}

// PasswordHasher produces password hashes.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// UserService encapsulates user management use-cases.
type UserService struct {
	repo   UserStore
	hasher PasswordHasher
}

// NewUserService constructs a UserService.
func NewUserService(repo UserStore, hasher PasswordHasher) *UserService {
	return &UserService{repo: repo, hasher: hasher}
}

func validateUsername(username string) error {
	if len(username) < usernameMinLen || len(username) > usernameMaxLen {
		return ErrUsernameLength
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < passwordMinLen {
		return ErrPasswordTooShort
	}
	return nil
}

// Register creates a new account with the user role.
func (s *UserService) Register(ctx context.Context, username, password string) (types.User, error) {
	return s.Create(ctx, username, password, types.RoleUser)
}

// Create creates a new account with an explicit role.
func (s *UserService) Create(ctx context.Context, username, password, role string) (types.User, error) {
	if err := validateUsername(username); err != nil {
		return types.User{}, err
	}
	if err := validatePassword(password); err != nil {
		return types.User{}, err
	}
	if !types.ValidRole(role) {
		return types.User{}, ErrInvalidRole
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, err
	}

	return s.repo.Create(ctx, types.User{
		Username:     username,
		Role:         role,
		IsActive:     true,
		PasswordHash: hash,
	})
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// UserUpdate carries the optional fields of an update request. Nil fields
// are left unchanged.
type UserUpdate struct {
	Username *string
	Password *string
	Role     *string
	IsActive *bool
}

// Update applies a partial update to a user.
func (s *UserService) Update(ctx context.Context, id int, update UserUpdate) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	if update.Username != nil {
		if err := validateUsername(*update.Username); err != nil {
			return types.User{}, err
		}
		user.Username = *update.Username
	}
	if update.Password != nil {
		if err := validatePassword(*update.Password); err != nil {
			return types.User{}, err
		}
		hash, err := s.hasher.Hash(*update.Password)
		if err != nil {
			return types.User{}, err
		}
		user.PasswordHash = hash
	}
	if update.Role != nil {
		if !types.ValidRole(*update.Role) {
			return types.User{}, ErrInvalidRole
		}
		user.Role = *update.Role
	}
	if update.IsActive != nil {
		user.IsActive = *update.IsActive
	}

	return s.repo.Update(ctx, user)
}

// Delete removes a user. Admins cannot delete their own account.
func (s *UserService) Delete(ctx context.Context, id, actorID int) error {
	if id == actorID {
		return ErrSelfModification
	}
	return s.repo.Delete(ctx, id)
}

// ChangeRole sets a user's role. Admins cannot change their own role.
func (s *UserService) ChangeRole(ctx context.Context, id, actorID int, role string) (types.User, error) {
	if id == actorID {
		return types.User{}, ErrSelfModification
	}
	if !types.ValidRole(role) {
		return types.User{}, ErrInvalidRole
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.Role = role
	return s.repo.Update(ctx, user)
}

// SetStatus activates or deactivates a user. Admins cannot change their own
// status.
func (s *UserService) SetStatus(ctx context.Context, id, actorID int, active bool) (types.User, error) {
	if id == actorID {
		return types.User{}, ErrSelfModification
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.IsActive = active
	return s.repo.Update(ctx, user)
}

// List returns a page of users. The limit is clamped to the list maximum.
func (s *UserService) List(ctx context.Context, skip, limit int) ([]types.User, int, error) {
	if limit <= 0 || limit > listMaxLimit {
		limit = listMaxLimit
	}
	if skip < 0 {
		skip = 0
	}
	return s.repo.Search(ctx, types.UserFilters{Skip: skip, Limit: limit})
}

// Search returns users matching the filters plus pagination bookkeeping.
func (s *UserService) Search(ctx context.Context, filters types.UserFilters) (types.UserSearchResult, error) {
	if filters.Limit <= 0 || filters.Limit > searchMaxLimit {
		filters.Limit = searchMaxLimit
	}
	if filters.Skip < 0 {
		filters.Skip = 0
	}

	users, total, err := s.repo.Search(ctx, filters)
	if err != nil {
		return types.UserSearchResult{}, err
	}
	if users == nil {
		users = []types.User{}
	}

	totalPages := (total + filters.Limit - 1) / filters.Limit
	currentPage := filters.Skip/filters.Limit + 1
	return types.UserSearchResult{
		Users:      users,
		TotalCount: total,
		PageInfo: types.PageInfo{
			CurrentPage: currentPage,
			TotalPages:  totalPages,
			HasNext:     filters.Skip+filters.Limit < total,
			HasPrevious: filters.Skip > 0,
		},
	}, nil
}

// BulkSetActive activates or deactivates a batch of users. Each failure is
// reported per user; one bad ID never aborts the batch. The acting admin
// cannot deactivate themselves.
func (s *UserService) BulkSetActive(ctx context.Context, ids []int, actorID int, active bool) (types.BulkResult, error) {
	if len(ids) > bulkMaxIDs {
		return types.BulkResult{}, ErrBulkTooLarge
	}

	result := types.BulkResult{
		Successful: []int{},
		Failed:     []types.BulkFailure{},
	}
	for _, id := range ids {
		if id == actorID && !active {
			result.Failed = append(result.Failed, types.BulkFailure{
				UserID: id,
				Error:  "cannot deactivate your own account",
			})
			continue
		}
		if err := s.repo.SetActive(ctx, id, active); err != nil {
			msg := "update failed"
			if errors.Is(err, store.ErrNotFound) {
				msg = "user not found"
			}
			result.Failed = append(result.Failed, types.BulkFailure{UserID: id, Error: msg})
			continue
		}
		result.Successful = append(result.Successful, id)
	}

	result.TotalProcessed = len(ids)
	result.SuccessCount = len(result.Successful)
	result.FailureCount = len(result.Failed)
	return result, nil
}

// ExportCSV renders all users matching the filters as CSV.
func (s *UserService) ExportCSV(ctx context.Context, filters types.UserFilters) ([]byte, error) {
	users, err := s.exportRows(ctx, filters)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "username", "role", "is_active", "created_at"}); err != nil {
		return nil, err
	}
	for _, u := range users {
		record := []string{
			strconv.Itoa(u.ID),
			u.Username,
			u.Role,
			strconv.FormatBool(u.IsActive),
			u.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportJSON renders all users matching the filters as a JSON document with
// an export timestamp and count.
func (s *UserService) ExportJSON(ctx context.Context, filters types.UserFilters) ([]byte, error) {
	users, err := s.exportRows(ctx, filters)
	if err != nil {
		return nil, err
	}

	type exportedUser struct {
		ID        int    `json:"id"`
		Username  string `json:"username"`
		Role      string `json:"role"`
		IsActive  bool   `json:"is_active"`
		CreatedAt string `json:"created_at"`
	}
	doc := struct {
		ExportedAt string         `json:"exported_at"`
		TotalUsers int            `json:"total_users"`
		Users      []exportedUser `json:"users"`
	}{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		TotalUsers: len(users),
		Users:      make([]exportedUser, 0, len(users)),
	}
	for _, u := range users {
		doc.Users = append(doc.Users, exportedUser{
			ID:        u.ID,
			Username:  u.Username,
			Role:      u.Role,
			IsActive:  u.IsActive,
			CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (s *UserService) exportRows(ctx context.Context, filters types.UserFilters) ([]types.User, error) {
	filters.Skip = 0
	filters.Limit = searchMaxLimit

	var all []types.User
	for {
		page, total, err := s.repo.Search(ctx, filters)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(all) >= total || len(page) == 0 {
			return all, nil
		}
		filters.Skip += len(page)
		if filters.Skip > total {
			return nil, fmt.Errorf("export pagination out of range at offset %d", filters.Skip)
		}
	}
}
