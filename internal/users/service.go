package users

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	FindUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, email, name, passwordHash string) (User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// GrantCleaner removes every grant a principal holds. Satisfied by the
// permission service.
type GrantCleaner interface {
	DeletePrincipal(ctx context.Context, principalID int64) error
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	grants GrantCleaner
}

// NewService builds Service instance. grants may be nil when grant cleanup is
// handled elsewhere.
func NewService(repo RepositoryPort, grants GrantCleaner) *Service {
	return &Service{repo: repo, grants: grants}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// FindUser returns one user.
func (s *Service) FindUser(ctx context.Context, id int64) (User, error) {
	return s.repo.FindUser(ctx, id)
}

// CreateUser hashes the password and inserts the account.
func (s *Service) CreateUser(ctx context.Context, email, name, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.CreateUser(ctx, email, name, string(hash))
}

// DeleteUser removes the account and every grant it holds. Other users'
// grants are untouched.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	if s.grants != nil {
		return s.grants.DeletePrincipal(ctx, id)
	}
	return nil
}
