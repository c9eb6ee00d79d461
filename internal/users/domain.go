package users

import (
	"time"

	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
)

// User is an employee known to the workforce engine.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      rbac.Role `json:"role"`
	ManagerID *int64    `json:"manager_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportsTo reports whether managerID is the user's direct manager.
func (u User) ReportsTo(managerID int64) bool {
	return u.ManagerID != nil && *u.ManagerID == managerID
}
