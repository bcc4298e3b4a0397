package httpapi

import (
	"net/http"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

const authHeader = "Authorization"

// withAuth resolves the bearer token to an Administration member. Missing or
// invalid tokens get 401; authenticated non-members get 403.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := auth.BearerToken(r.Header.Get(authHeader))
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		actorCtx, err := a.backend.ResolveActor(r.Context(), token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if _, ok := actorCtx.Actor(); !ok {
			obs.Ctx(r.Context()).Info().Str("account_id", actorCtx.AccountID).Msg("non-member rejected")
			writeError(w, r, http.StatusForbidden, "Access denied")
			return
		}

		ctx := auth.ContextWithActor(r.Context(), actorCtx)
		ctx = auth.ContextWithToken(ctx, token)
		l := obs.Ctx(ctx).With().Str("actor_id", actorCtx.AccountID).Logger()
		ctx = l.WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireActor returns the member attached by withAuth.
func requireActor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actorCtx, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return auth.Actor{}, false
	}
	actor, ok := actorCtx.Actor()
	if !ok {
		writeError(w, r, http.StatusForbidden, "Access denied")
		return auth.Actor{}, false
	}
	return actor, true
}
