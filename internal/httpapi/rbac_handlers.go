package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
)

type grantServiceRoleRequest struct {
	UserID    string `json:"userId" validate:"required,uuid"`
	ServiceID string `json:"serviceId" validate:"required,max=200"`
	Role      string `json:"role" validate:"required,oneof=admin user"`
}

type updateServiceRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin user"`
}

type logListFilter struct {
	Search string `json:"search" validate:"max=200"`
	Action string `json:"action" validate:"max=100"`
}

func (a *API) handleGrantServiceRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req grantServiceRoleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	row, err := a.backend.GrantServiceRole(r.Context(), actor, admin.GrantInput{
		UserID:    req.UserID,
		ServiceID: strings.TrimSpace(req.ServiceID),
		Role:      auth.Role(req.Role),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, row, "User added to service successfully")
}

func (a *API) handleUpdateServiceRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	var req updateServiceRoleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	row, err := a.backend.UpdateServiceRole(r.Context(), actor, userID, chi.URLParam(r, "serviceId"), auth.Role(req.Role))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, row, "User role updated successfully")
}

func (a *API) handleRevokeServiceRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	if err := a.backend.RevokeServiceRole(r.Context(), actor, userID, chi.URLParam(r, "serviceId")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "User removed from service successfully")
}

func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := a.backend.ListServices(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, services, "")
}

func (a *API) handleListLogs(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := logListFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Action: strings.TrimSpace(q.Get("action")),
	}
	page, ok := pageParams(w, r)
	if !ok || !validateStruct(w, r, &filter) {
		return
	}
	res, err := a.backend.ListLogs(r.Context(), actor, admin.LogQuery{
		Page:   page,
		Search: filter.Search,
		Action: filter.Action,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, "")
}
