// Package actor resolves the calling identity for kernel writes. Identity is
// optional: an emission without a resolvable actor is recorded with a null
// actor_user_id.
package actor

import "context"

type contextKey string

const actorKey contextKey = "actor"

// Actor is the authenticated caller.
type Actor struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
}

// WithActor attaches an Actor to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// FromContext retrieves the Actor from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	if !ok || a.UserID == "" {
		return Actor{}, false
	}
	return a, true
}

// UserID returns the actor's user id, or nil for anonymous/system calls.
func UserID(ctx context.Context) *string {
	a, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	id := a.UserID
	return &id
}
