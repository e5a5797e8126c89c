package requestctx

import "context"

// Actor identifies the calling user for a request or command.
type Actor struct {
	ID          string
	DisplayName string
}

// actorContextKey is the context key for the calling actor identity.
type actorContextKey struct{}

// WithActor stores the calling actor in context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor stored in context, if any.
func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return Actor{}
	}
	value, _ := ctx.Value(actorContextKey{}).(Actor)
	return value
}
