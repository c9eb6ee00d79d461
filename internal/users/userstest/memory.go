// Package userstest provides an in-memory user repository for tests.
package userstest

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
	"github.com/odyssey-erp/odyssey-workforce/internal/users"
)

// Repository is an in-memory users.RepositoryPort.
type Repository struct {
	mu    sync.Mutex
	users map[int64]users.User
}

// NewRepository seeds the repository with the supplied users.
func NewRepository(seed ...users.User) *Repository {
	repo := &Repository{users: make(map[int64]users.User)}
	for _, u := range seed {
		repo.users[u.ID] = u
	}
	return repo
}

// Put inserts or replaces a user.
func (r *Repository) Put(u users.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *Repository) ListUsers(ctx context.Context) ([]users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]users.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) GetUser(ctx context.Context, id int64) (users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

// ManagedBy is a helper for building a user with a manager.
func ManagedBy(managerID int64) *int64 {
	return &managerID
}
