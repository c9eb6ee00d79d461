package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Policy *Policy
	Logger *slog.Logger
}

// Require ensures the current actor may perform every listed action on res.
func (m Middleware) Require(res Resource, actions ...Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
				return
			}
			for _, action := range actions {
				if err := m.Policy.Authorize(Role(actor.Role), res, action); err != nil {
					if m.Logger != nil {
						m.Logger.Warn("rbac denied",
							slog.Int64("actor_id", actor.ID),
							slog.String("resource", string(res)),
							slog.String("action", string(action)))
					}
					httpx.RespondError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
