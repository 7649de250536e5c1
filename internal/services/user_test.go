package services

import (
	"context"
	"encoding/csv"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jdauth/apiserver/internal/security"
	"github.com/jdauth/apiserver/internal/store"
	"github.com/jdauth/apiserver/types"
)

type memUserStore struct {
	nextID int
	users  map[int]types.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{nextID: 1, users: map[int]types.User{}}
}

func (m *memUserStore) GetByID(_ context.Context, id int) (types.User, error) {
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memUserStore) GetByUsername(_ context.Context, username string) (types.User, error) {
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUserStore) Create(_ context.Context, user types.User) (types.User, error) {
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return types.User{}, store.ErrDuplicateUsername
		}
	}
	user.ID = m.nextID
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	m.nextID++
	m.users[user.ID] = user
	return user, nil
}

func (m *memUserStore) Update(_ context.Context, user types.User) (types.User, error) {
	if _, ok := m.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	for id, existing := range m.users {
		if existing.Username == user.Username && id != user.ID {
			return types.User{}, store.ErrDuplicateUsername
		}
	}
	user.UpdatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return user, nil
}

func (m *memUserStore) Delete(_ context.Context, id int) error {
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUserStore) Search(_ context.Context, filters types.UserFilters) ([]types.User, int, error) {
	var matched []types.User
	for _, user := range m.users {
		if filters.Role != "" && user.Role != filters.Role {
			continue
		}
		if filters.IsActive != nil && user.IsActive != *filters.IsActive {
			continue
		}
		if filters.Query != "" && !strings.Contains(strings.ToLower(user.Username), strings.ToLower(filters.Query)) {
			continue
		}
		matched = append(matched, user)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	if filters.Skip >= total {
		return nil, total, nil
	}
	matched = matched[filters.Skip:]
	if filters.Limit > 0 && len(matched) > filters.Limit {
		matched = matched[:filters.Limit]
	}
	return matched, total, nil
}

func (m *memUserStore) SetActive(_ context.Context, id int, active bool) error {
	user, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.IsActive = active
	m.users[id] = user
	return nil
}

func newUserService() (*UserService, *memUserStore) {
	repo := newMemUserStore()
	return NewUserService(repo, security.NewHasher(bcrypt.MinCost)), repo
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"username too short", "ab", "password", ErrUsernameLength},
		{"username too long", strings.Repeat("a", 51), "password", ErrUsernameLength},
		{"password too short", "alice", "12345", ErrPasswordTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	user, err := svc.Register(ctx, "alice", "password")
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, user.Role)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "password", user.PasswordHash)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "password")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "other-password")
	assert.ErrorIs(t, err, store.ErrDuplicateUsername)
}

func TestCreateRejectsUnknownRole(t *testing.T) {
	svc, _ := newUserService()

	_, err := svc.Create(context.Background(), "alice", "password", "superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestUpdatePartialFields(t *testing.T) {
	svc, repo := newUserService()
	ctx := context.Background()

	created, err := svc.Create(ctx, "alice", "password", types.RoleUser)
	require.NoError(t, err)
	originalHash := created.PasswordHash

	role := types.RoleAdmin
	updated, err := svc.Update(ctx, created.ID, UserUpdate{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, updated.Role)
	assert.Equal(t, "alice", updated.Username)
	assert.Equal(t, originalHash, updated.PasswordHash)

	password := "new-password"
	updated, err = svc.Update(ctx, created.ID, UserUpdate{Password: &password})
	require.NoError(t, err)
	assert.NotEqual(t, originalHash, updated.PasswordHash)

	stored := repo.users[created.ID]
	assert.Equal(t, updated.PasswordHash, stored.PasswordHash)
}

func TestSelfModificationGuards(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	admin, err := svc.Create(ctx, "admin", "password", types.RoleAdmin)
	require.NoError(t, err)

	err = svc.Delete(ctx, admin.ID, admin.ID)
	assert.ErrorIs(t, err, ErrSelfModification)

	_, err = svc.ChangeRole(ctx, admin.ID, admin.ID, types.RoleUser)
	assert.ErrorIs(t, err, ErrSelfModification)

	_, err = svc.SetStatus(ctx, admin.ID, admin.ID, false)
	assert.ErrorIs(t, err, ErrSelfModification)
}

func TestBulkSetActive(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	admin, err := svc.Create(ctx, "admin", "password", types.RoleAdmin)
	require.NoError(t, err)
	first, err := svc.Create(ctx, "first", "password", types.RoleUser)
	require.NoError(t, err)
	second, err := svc.Create(ctx, "second", "password", types.RoleUser)
	require.NoError(t, err)

	result, err := svc.BulkSetActive(ctx, []int{first.ID, second.ID, admin.ID, 9999}, admin.ID, false)
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalProcessed)
	assert.Equal(t, []int{first.ID, second.ID}, result.Successful)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, admin.ID, result.Failed[0].UserID)
	assert.Equal(t, "cannot deactivate your own account", result.Failed[0].Error)
	assert.Equal(t, 9999, result.Failed[1].UserID)
	assert.Equal(t, "user not found", result.Failed[1].Error)

	// The admin may bulk-activate themselves; only self-deactivation is
	// guarded.
	result, err = svc.BulkSetActive(ctx, []int{admin.ID}, admin.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
}

func TestBulkSetActiveCap(t *testing.T) {
	svc, _ := newUserService()

	ids := make([]int, 101)
	for i := range ids {
		ids[i] = i + 1
	}
	_, err := svc.BulkSetActive(context.Background(), ids, 9999, true)
	assert.ErrorIs(t, err, ErrBulkTooLarge)
}

func TestSearchPagination(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
		_, err := svc.Create(ctx, name, "password", types.RoleUser)
		require.NoError(t, err)
	}

	result, err := svc.Search(ctx, types.UserFilters{Skip: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalCount)
	require.Len(t, result.Users, 2)
	assert.Equal(t, "carol", result.Users[0].Username)
	assert.Equal(t, types.PageInfo{
		CurrentPage: 2,
		TotalPages:  3,
		HasNext:     true,
		HasPrevious: true,
	}, result.PageInfo)
}

func TestExportCSV(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", "password", types.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "bob", "password", types.RoleUser)
	require.NoError(t, err)

	payload, err := svc.ExportCSV(ctx, types.UserFilters{})
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id", "username", "role", "is_active", "created_at"}, records[0])
	assert.Equal(t, "alice", records[1][1])
	assert.Equal(t, "admin", records[1][2])
	assert.Equal(t, "true", records[1][3])
}

func TestExportCSVHonorsFilters(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", "password", types.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "bob", "password", types.RoleUser)
	require.NoError(t, err)

	payload, err := svc.ExportCSV(ctx, types.UserFilters{Role: types.RoleAdmin})
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[1][1])
}
