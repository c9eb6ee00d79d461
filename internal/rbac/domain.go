package rbac

// Role groups users that share the same capabilities.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleHR       Role = "hr"
	RoleAdmin    Role = "admin"
)

// Resource is a protected area of the workforce engine.
type Resource string

const (
	ResourceAttendance Resource = "attendance"
	ResourceLeave      Resource = "leave"
	ResourcePayroll    Resource = "payroll"
	ResourceAudit      Resource = "audit"
	ResourceImports    Resource = "imports"
)

// Action is an operation performed on a resource.
type Action string

const (
	ActionView     Action = "view"
	ActionWrite    Action = "write"
	ActionBulk     Action = "bulk"
	ActionApprove  Action = "approve"
	ActionReopen   Action = "reopen"
	ActionAllocate Action = "allocate"
	ActionLock     Action = "lock"
	ActionUnlock   Action = "unlock"
	ActionOverride Action = "override"
	ActionClear    Action = "clear"
	ActionRollback Action = "rollback"
	ActionDedup    Action = "dedup"
)

// Rule grants a role one action on one resource.
type Rule struct {
	Role     Role     `json:"role"`
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleHR, RoleAdmin:
		return true
	default:
		return false
	}
}
