package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/location-analysis-service/internal/models"
)

func newTestStore(t *testing.T) *UserStore {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewUserStore(db)
}

func testUser(email string) models.User {
	return models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         "Ana Souza",
		PasswordHash: "$2a$10$hash",
		CreatedAt:    time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestUserStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := testUser("ana@example.com")

	require.NoError(t, s.Create(ctx, u))

	byEmail, err := s.GetByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, u, byEmail)

	byID, err := s.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, byID)
}

// TestUserStore_EmailCaseInsensitive verifies emails are stored lowercased and matched regardless of case.
func TestUserStore_EmailCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Create(ctx, testUser("Ana@Example.com")))

	got, err := s.GetByEmail(ctx, "ANA@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.Email)

	err = s.Create(ctx, testUser("ana@example.com"))
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestUserStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.GetByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

// TestOpen_File verifies a file-backed database is created along with its directory.
func TestOpen_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "locations.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	s := NewUserStore(db)
	require.NoError(t, s.Create(ctx, testUser("file@example.com")))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	_, err = NewUserStore(db).GetByEmail(ctx, "file@example.com")
	assert.NoError(t, err, "users should survive reopen")
	assert.NoError(t, NewUserStore(db).Ping(ctx))
}
