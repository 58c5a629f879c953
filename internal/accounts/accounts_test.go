package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	repo, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCreateAndFindUser(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "alice@example.com", "alice", "hash", "student")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)

	got, err := repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.Equal(t, "student", got.UserType)
}

func TestFindUnknownUser(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.FindByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDuplicateEmailRejected(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.CreateUser(ctx, "bob@example.com", "bob", "hash", "instructor")
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, "bob@example.com", "bobby", "hash2", "student")
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	user, err := Register(ctx, repo, "carol@example.com", "carol", "s3cret", "student")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	t.Run("success", func(t *testing.T) {
		got, err := Login(ctx, repo, "carol@example.com", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "student", got.UserType)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := Login(ctx, repo, "carol@example.com", "nope")
		assert.ErrorIs(t, err, ErrBadPassword)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := Login(ctx, repo, "dave@example.com", "s3cret")
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})
}

func TestHashPasswordUsesBcrypt(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))
}
