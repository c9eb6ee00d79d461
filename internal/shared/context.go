package shared

import "context"

type actorContextKey struct{}

// Actor is the authenticated user performing a request.
type Actor struct {
	ID   int64
	Name string
	Role string
}

// Override lets an authorized actor write into a locked payroll period.
type Override struct {
	ActorID int64  `json:"actor_id"`
	Reason  string `json:"reason"`
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != 0
}
