package httpapi

import (
	"errors"
	"net/http"

	"meridian.club/internal/audit"
	"meridian.club/internal/auth"
)

type permissionsResponse struct {
	UserID          string       `json:"user_id"`
	Role            auth.Role    `json:"role"`
	Permissions     []auth.Grant `json:"permissions"`
	AssignableRoles []auth.Role  `json:"assignable_roles"`
}

func (a *API) handleMyPermissions(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	assignable := a.roles.AssignableRoles(caller.Role, auth.RoleMember)
	if assignable == nil {
		assignable = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, permissionsResponse{
		UserID:          caller.ID,
		Role:            caller.Role,
		Permissions:     a.catalog.Permissions(caller.Role),
		AssignableRoles: assignable,
	})
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	var body assignRoleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	requested, err := auth.ParseRole(body.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}

	ctx := r.Context()
	target, err := a.accounts.Account(ctx, pathID(r))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		a.logger.ErrorContext(ctx, "load_account_failed", "request_id", RequestIDFromContext(ctx), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	req := gateRequest(r)
	if err := a.gate.AuthorizeRoleChange(ctx, caller, target, requested, req); err != nil {
		writeGateError(w, r, err)
		return
	}
	if target.Role == requested {
		writeJSON(w, http.StatusOK, target)
		return
	}

	updated, err := a.accounts.UpdateRole(ctx, target.ID, requested)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		a.logger.ErrorContext(ctx, "update_role_failed", "request_id", RequestIDFromContext(ctx), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if a.recorder != nil {
		a.recorder.Record(ctx, audit.Event{
			Type:        audit.EventRoleChanged,
			CallerID:    caller.ID,
			CallerEmail: caller.Email,
			CallerRole:  caller.Role,
			Resource:    auth.ResourceUsers,
			Action:      auth.ActionAssign,
			ResourceID:  updated.ID,
			Success:     true,
			Details:     map[string]any{"from": string(target.Role), "to": string(updated.Role)},
			Metadata:    audit.Metadata{IP: req.IP, UserAgent: req.UserAgent, RequestID: req.RequestID},
		})
	}
	writeJSON(w, http.StatusOK, updated)
}
