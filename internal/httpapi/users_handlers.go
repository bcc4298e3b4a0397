package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
)

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Invite   *bool  `json:"invite"`
}

type updateUserRequest struct {
	FullName string `json:"full_name" validate:"required,min=2,max=200"`
}

type banRequest struct {
	Banned         *bool `json:"banned" validate:"required"`
	DurationInDays *int  `json:"durationInDays" validate:"omitempty,gte=0,lte=36500"`
}

type userListFilter struct {
	Search    string `json:"search" validate:"max=200"`
	Role      string `json:"role" validate:"omitempty,oneof=admin user none"`
	ServiceID string `json:"serviceId" validate:"omitempty,uuid"`
	Status    string `json:"status" validate:"omitempty,oneof=verified not-verified banned"`
}

type createdUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := userListFilter{
		Search:    strings.TrimSpace(q.Get("search")),
		Role:      strings.TrimSpace(q.Get("role")),
		ServiceID: strings.TrimSpace(q.Get("serviceId")),
		Status:    strings.TrimSpace(q.Get("status")),
	}
	page, ok := pageParams(w, r)
	if !ok || !validateStruct(w, r, &filter) {
		return
	}
	res, err := a.backend.ListUsers(r.Context(), admin.UserQuery{
		Page:      page,
		Search:    filter.Search,
		Role:      filter.Role,
		ServiceID: filter.ServiceID,
		Status:    filter.Status,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, "")
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	invite := req.Invite == nil || *req.Invite
	acc, err := a.backend.CreateAccount(r.Context(), actor, admin.CreateAccountInput{
		Username: req.Username,
		Email:    req.Email,
		Invite:   invite,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	msg := "User created successfully"
	if invite {
		msg = "User invitation sent successfully"
	}
	writeData(w, http.StatusCreated, createdUser{
		ID:        acc.ID,
		Email:     acc.Email,
		CreatedAt: acc.CreatedAt.UTC().Format(time.RFC3339),
	}, msg)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	acc, err := a.backend.UpdateAccount(r.Context(), actor, id, admin.UpdateAccountInput{FullName: req.FullName})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, acc, "User updated successfully")
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.backend.DeleteAccount(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "User deleted successfully")
}

func (a *API) handleBanUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req banRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	d := auth.BanDuration{Banned: *req.Banned}
	if req.DurationInDays != nil {
		d.Days = *req.DurationInDays
	}
	if _, err := a.backend.SetBan(r.Context(), actor, id, d); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if d.Banned {
		writeMessage(w, http.StatusOK, "User banned successfully")
		return
	}
	writeMessage(w, http.StatusOK, "User unbanned successfully")
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.backend.ResetPassword(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password reset email sent successfully")
}

func (a *API) handleUserServiceRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rows, err := a.backend.UserServiceRoles(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rows, "")
}

func pageParams(w http.ResponseWriter, r *http.Request) (admin.Page, bool) {
	var details []fieldError
	page, fe := queryInt(r, "page", 1, 1_000_000)
	if fe != nil {
		details = append(details, *fe)
	}
	limit, fe := queryInt(r, "limit", admin.DefaultPageSize, admin.MaxPageSize)
	if fe != nil {
		details = append(details, *fe)
	}
	if len(details) > 0 {
		writeValidationError(w, r, details)
		return admin.Page{}, false
	}
	return admin.Page{Page: page, Limit: limit}, true
}
