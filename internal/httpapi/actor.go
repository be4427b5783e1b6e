package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

// Actor is the caller identity an upstream auth layer is expected to
// attach to the request context. Authentication and role/scope
// enforcement are explicitly out of scope here (spec §1); this package
// only needs to know who to attribute an action to for the audit trail.
type Actor struct {
	Type domain.ActorType
	ID   uuid.UUID
}

type actorCtxKey struct{}

// ContextWithActor attaches an Actor to ctx. An outer auth middleware
// (not part of this core) calls this once it has verified the caller.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext retrieves the Actor attached by ContextWithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorCtxKey{}).(Actor)
	return actor, ok
}
