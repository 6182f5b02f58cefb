package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/authvital/authvital/internal/apikey"
	"github.com/authvital/authvital/internal/permission"
)

type createKeyRequest struct {
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// createKeyResponse carries the plaintext secret exactly once.
type createKeyResponse struct {
	Credential apikey.Credential `json:"credential"`
	Secret     string            `json:"secret"`
}

type updateKeyRequest struct {
	Name        *string  `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

func (a *API) handleKeysCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createKey(w, r)
	case http.MethodGet:
		a.listKeys(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleKeyResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/keys/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		a.updateKey(w, r, id)
	case http.MethodDelete:
		a.revokeKey(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requireAction(w, r, permission.ActionKeyCreate)
	if !ok {
		return
	}
	if a.keys == nil {
		writeError(w, r, http.StatusServiceUnavailable, "key management unavailable")
		return
	}
	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cred, secret, err := a.keys.Issue(r.Context(), apikey.IssueParams{
		OwnerID:     principal.TenantID,
		Name:        req.Name,
		Permissions: req.Permissions,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		handleKeyError(w, r, err)
		return
	}

	a.audit("credential.created", map[string]any{
		"credential_id": cred.ID,
		"owner_id":      cred.OwnerID,
		"performed_by":  performedBy(principal),
	})
	w.Header().Set("Location", "/v1/keys/"+cred.ID)
	writeJSON(w, http.StatusCreated, createKeyResponse{Credential: cred, Secret: secret})
}

func (a *API) listKeys(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requireAction(w, r, permission.ActionKeyList)
	if !ok {
		return
	}
	if a.keys == nil {
		writeError(w, r, http.StatusServiceUnavailable, "key management unavailable")
		return
	}
	creds, err := a.keys.List(r.Context(), principal.TenantID)
	if err != nil {
		handleKeyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": creds})
}

func (a *API) updateKey(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := a.requireAction(w, r, permission.ActionKeyCreate)
	if !ok {
		return
	}
	if a.keys == nil {
		writeError(w, r, http.StatusServiceUnavailable, "key management unavailable")
		return
	}
	var req updateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if owned, errored := a.ensureKeyOwner(w, r, id, principal.TenantID); !owned || errored {
		return
	}

	cred, err := a.keys.Update(r.Context(), id, apikey.Update{
		Name:        req.Name,
		Permissions: req.Permissions,
		Active:      req.Active,
	})
	if err != nil {
		handleKeyError(w, r, err)
		return
	}
	a.audit("credential.updated", map[string]any{
		"credential_id": cred.ID,
		"owner_id":      cred.OwnerID,
		"performed_by":  performedBy(principal),
	})
	writeJSON(w, http.StatusOK, cred)
}

func (a *API) revokeKey(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := a.requireAction(w, r, permission.ActionKeyRevoke)
	if !ok {
		return
	}
	if a.keys == nil {
		writeError(w, r, http.StatusServiceUnavailable, "key management unavailable")
		return
	}
	if owned, errored := a.ensureKeyOwner(w, r, id, principal.TenantID); !owned || errored {
		return
	}

	if err := a.keys.Revoke(r.Context(), id); err != nil {
		handleKeyError(w, r, err)
		return
	}
	a.audit("credential.revoked", map[string]any{
		"credential_id": id,
		"performed_by":  performedBy(principal),
	})
	w.WriteHeader(http.StatusNoContent)
}

// ensureKeyOwner rejects cross-tenant access to a credential. Unknown ids
// report not found rather than leaking existence.
func (a *API) ensureKeyOwner(w http.ResponseWriter, r *http.Request, id, ownerID string) (owned, errored bool) {
	creds, err := a.keys.List(r.Context(), ownerID)
	if err != nil {
		handleKeyError(w, r, err)
		return false, true
	}
	for _, cred := range creds {
		if cred.ID == id {
			return true, false
		}
	}
	writeError(w, r, http.StatusNotFound, "credential not found")
	return false, false
}

func handleKeyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apikey.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, apikey.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
