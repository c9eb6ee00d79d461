package rbac

import (
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// Policy is the single authorization table keyed by (role, resource, action).
type Policy struct {
	rules map[Rule]struct{}
}

// NewPolicy builds a policy from the supplied rules.
func NewPolicy(rules ...Rule) *Policy {
	p := &Policy{rules: make(map[Rule]struct{}, len(rules))}
	for _, r := range rules {
		p.rules[r] = struct{}{}
	}
	return p
}

// DefaultPolicy returns the rules shipped with the engine.
func DefaultPolicy() *Policy {
	var rules []Rule
	grant := func(role Role, res Resource, actions ...Action) {
		for _, a := range actions {
			rules = append(rules, Rule{Role: role, Resource: res, Action: a})
		}
	}
	grant(RoleEmployee, ResourceAttendance, ActionView, ActionWrite)
	grant(RoleEmployee, ResourceLeave, ActionView, ActionWrite)

	grant(RoleManager, ResourceAttendance, ActionView, ActionWrite)
	grant(RoleManager, ResourceLeave, ActionView, ActionWrite)
	grant(RoleManager, ResourcePayroll, ActionView)

	grant(RoleHR, ResourceAttendance, ActionView, ActionWrite, ActionBulk)
	grant(RoleHR, ResourceLeave, ActionView, ActionWrite, ActionApprove, ActionAllocate)
	grant(RoleHR, ResourcePayroll, ActionView, ActionLock)
	grant(RoleHR, ResourceAudit, ActionView)
	grant(RoleHR, ResourceImports, ActionView, ActionWrite, ActionDedup)

	grant(RoleAdmin, ResourceAttendance, ActionView, ActionWrite, ActionBulk)
	grant(RoleAdmin, ResourceLeave, ActionView, ActionWrite, ActionApprove, ActionAllocate, ActionReopen)
	grant(RoleAdmin, ResourcePayroll, ActionView, ActionLock, ActionUnlock, ActionOverride, ActionClear)
	grant(RoleAdmin, ResourceAudit, ActionView, ActionRollback)
	grant(RoleAdmin, ResourceImports, ActionView, ActionWrite, ActionDedup)
	return NewPolicy(rules...)
}

// Allowed reports whether role may perform action on resource.
func (p *Policy) Allowed(role Role, res Resource, action Action) bool {
	if p == nil {
		return false
	}
	_, ok := p.rules[Rule{Role: role, Resource: res, Action: action}]
	return ok
}

// Authorize returns shared.ErrForbidden when the role lacks the rule.
func (p *Policy) Authorize(role Role, res Resource, action Action) error {
	if p.Allowed(role, res, action) {
		return nil
	}
	return fmt.Errorf("rbac: %s cannot %s %s: %w", role, action, res, shared.ErrForbidden)
}

// Rules returns the rules granted to role, sorted for display.
func (p *Policy) Rules(role Role) []Rule {
	if p == nil {
		return nil
	}
	var out []Rule
	for r := range p.rules {
		if r.Role == role {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}
