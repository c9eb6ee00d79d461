package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// PermissionsHandler exposes the policy rules of the current actor.
type PermissionsHandler struct {
	policy *Policy
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(policy *Policy) *PermissionsHandler {
	return &PermissionsHandler{policy: policy}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.mine)
}

func (h *PermissionsHandler) mine(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":  actor.Role,
		"rules": h.policy.Rules(Role(actor.Role)),
	})
}
