package auth

import "context"

// ActorContext is the per-request identity resolved by the authentication layer.
type ActorContext struct {
	AccountID  string
	Email      string
	Membership Membership
}

// Actor is an authenticated caller that holds a role in the Administration service.
type Actor struct {
	ID    string
	Email string
	Role  Role
}

// Actor narrows the context to an Actor. It fails for non-members.
func (c ActorContext) Actor() (Actor, bool) {
	role, ok := c.Membership.Role()
	if !ok || c.AccountID == "" {
		return Actor{}, false
	}
	return Actor{ID: c.AccountID, Email: c.Email, Role: role}, true
}

type actorContextKey struct{}
type tokenContextKey struct{}

// ContextWithActor attaches the resolved actor context to ctx.
func ContextWithActor(ctx context.Context, actor ActorContext) context.Context {
	return context.WithValue(ctx, actorContextKey{}, &actor)
}

// ActorFromContext extracts the actor context attached by ContextWithActor.
func ActorFromContext(ctx context.Context) (ActorContext, bool) {
	if ctx == nil {
		return ActorContext{}, false
	}
	v, ok := ctx.Value(actorContextKey{}).(*ActorContext)
	if !ok || v == nil {
		return ActorContext{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
