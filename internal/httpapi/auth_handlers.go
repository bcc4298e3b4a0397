package httpapi

import (
	"net/http"

	"gatehouse.org/internal/auth"
)

type verifyResponse struct {
	IsMember bool          `json:"isMember"`
	Role     string        `json:"role,omitempty"`
	User     *verifiedUser `json:"user,omitempty"`
}

type verifiedUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// handleVerify tells the dashboard whether the caller may use it. Invalid
// tokens are 401; valid tokens without an Administration role are
// {isMember:false}.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
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
	resp := verifyResponse{User: &verifiedUser{ID: actorCtx.AccountID, Email: actorCtx.Email}}
	if actor, ok := actorCtx.Actor(); ok {
		resp.IsMember = true
		resp.Role = string(actor.Role)
	}
	writeJSON(w, http.StatusOK, resp)
}
