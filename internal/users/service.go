package users

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
}

// Directory answers who employees are and who manages them.
type Directory struct {
	repo RepositoryPort
}

// NewDirectory builds a Directory instance.
func NewDirectory(repo RepositoryPort) *Directory {
	return &Directory{repo: repo}
}

// ListUsers returns all users.
func (d *Directory) ListUsers(ctx context.Context) ([]User, error) {
	return d.repo.ListUsers(ctx)
}

// GetUser returns one user or shared.ErrNotFound.
func (d *Directory) GetUser(ctx context.Context, id int64) (User, error) {
	if id <= 0 {
		return User{}, fmt.Errorf("%w: user id required", shared.ErrValidation)
	}
	return d.repo.GetUser(ctx, id)
}

// GetActiveUser returns the user when it exists and is active.
func (d *Directory) GetActiveUser(ctx context.Context, id int64) (User, error) {
	user, err := d.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !user.IsActive {
		return User{}, fmt.Errorf("%w: user %d is inactive", shared.ErrForbidden, id)
	}
	return user, nil
}

// IsManagerOf reports whether managerID directly manages employeeID.
func (d *Directory) IsManagerOf(ctx context.Context, managerID, employeeID int64) (bool, error) {
	employee, err := d.GetUser(ctx, employeeID)
	if err != nil {
		return false, err
	}
	return employee.ReportsTo(managerID), nil
}
