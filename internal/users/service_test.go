package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memRepo struct {
	nextID int64
	users  map[int64]User
	hashes map[int64]string
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, users: make(map[int64]User), hashes: make(map[int64]string)}
}

var _ RepositoryPort = (*memRepo)(nil)

func (r *memRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memRepo) FindUser(ctx context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *memRepo) CreateUser(ctx context.Context, email, name, passwordHash string) (User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return User{}, ErrEmailTaken
		}
	}
	now := time.Now()
	u := User{ID: r.nextID, Email: email, Name: name, IsActive: true, CreatedAt: now, UpdatedAt: now}
	r.users[u.ID] = u
	r.hashes[u.ID] = passwordHash
	r.nextID++
	return u, nil
}

func (r *memRepo) DeleteUser(ctx context.Context, id int64) error {
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	delete(r.hashes, id)
	return nil
}

type memGrantCleaner struct {
	deleted []int64
}

func (c *memGrantCleaner) DeletePrincipal(ctx context.Context, principalID int64) error {
	c.deleted = append(c.deleted, principalID)
	return nil
}

func TestCreateUserHashesPassword(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "ana@example.com", "Ana", "correct horse battery")
	require.NoError(t, err)
	require.True(t, user.IsActive)

	hash := repo.hashes[user.ID]
	require.NotEqual(t, "correct horse battery", hash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse battery")))
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "ana@example.com", "Ana", "correct horse battery")
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, "ana@example.com", "Ana Dos", "battery staple horse")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestDeleteUserCleansGrants(t *testing.T) {
	repo := newMemRepo()
	cleaner := &memGrantCleaner{}
	svc := NewService(repo, cleaner)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "ana@example.com", "Ana", "correct horse battery")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, user.ID))
	require.Equal(t, []int64{user.ID}, cleaner.deleted)

	_, err = svc.FindUser(ctx, user.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserUnknown(t *testing.T) {
	repo := newMemRepo()
	cleaner := &memGrantCleaner{}
	svc := NewService(repo, cleaner)

	err := svc.DeleteUser(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, cleaner.deleted)
}
