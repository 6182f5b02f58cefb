package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/authvital/authvital/internal/license"
	"github.com/authvital/authvital/internal/obs"
	"github.com/authvital/authvital/internal/permission"
)

type grantRequest struct {
	UserID        string `json:"user_id"`
	ApplicationID string `json:"application_id"`
	LicenseTypeID string `json:"license_type_id"`
	Reason        string `json:"reason"`
}

type revokeRequest struct {
	UserID        string `json:"user_id"`
	ApplicationID string `json:"application_id"`
	Reason        string `json:"reason"`
}

type changeRequest struct {
	UserID           string `json:"user_id"`
	ApplicationID    string `json:"application_id"`
	NewLicenseTypeID string `json:"new_license_type_id"`
	Reason           string `json:"reason"`
}

type bulkGrantRequest struct {
	UserIDs       []string `json:"user_ids"`
	ApplicationID string   `json:"application_id"`
	LicenseTypeID string   `json:"license_type_id"`
	Reason        string   `json:"reason"`
}

type bulkRevokeRequest struct {
	UserIDs       []string `json:"user_ids"`
	ApplicationID string   `json:"application_id"`
	Reason        string   `json:"reason"`
}

type bulkResponse struct {
	Results []license.BulkResult `json:"results"`
}

const maxBulkUsers = 500

func (a *API) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requireAction(w, r, permission.ActionLicenseGrant)
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if principal.TenantID == "" {
		writeError(w, r, http.StatusBadRequest, "tenant context is required")
		return
	}

	assignment, err := a.ledger.Grant(r.Context(), license.GrantParams{
		TenantID:      principal.TenantID,
		UserID:        strings.TrimSpace(req.UserID),
		ApplicationID: strings.TrimSpace(req.ApplicationID),
		LicenseTypeID: strings.TrimSpace(req.LicenseTypeID),
		PerformedBy:   performedBy(principal),
		Reason:        req.Reason,
	})
	if err != nil {
		handleLicenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requireAction(w, r, permission.ActionLicenseRevoke)
	if !ok {
		return
	}
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if principal.TenantID == "" {
		writeError(w, r, http.StatusBadRequest, "tenant context is required")
		return
	}

	err := a.ledger.Revoke(r.Context(), license.RevokeParams{
		TenantID:      principal.TenantID,
		UserID:        strings.TrimSpace(req.UserID),
		ApplicationID: strings.TrimSpace(req.ApplicationID),
		PerformedBy:   performedBy(principal),
		Reason:        req.Reason,
	})
	if err != nil {
		handleLicenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) handleChangeType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requireAction(w, r, permission.ActionLicenseChange)
	if !ok {
		return
	}
	var req changeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if principal.TenantID == "" {
		writeError(w, r, http.StatusBadRequest, "tenant context is required")
		return
	}

	assignment, err := a.ledger.ChangeType(r.Context(), license.ChangeParams{
		TenantID:         principal.TenantID,
		UserID:           strings.TrimSpace(req.UserID),
		ApplicationID:    strings.TrimSpace(req.ApplicationID),
		NewLicenseTypeID: strings.TrimSpace(req.NewLicenseTypeID),
		PerformedBy:      performedBy(principal),
		Reason:           req.Reason,
	})
	if err != nil {
		handleLicenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (a *API) handleBulkGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requireAction(w, r, permission.ActionLicenseBulkGrant)
	if !ok {
		return
	}
	var req bulkGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if principal.TenantID == "" {
		writeError(w, r, http.StatusBadRequest, "tenant context is required")
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "user_ids is required")
		return
	}
	if len(req.UserIDs) > maxBulkUsers {
		writeError(w, r, http.StatusBadRequest, "too many user_ids in one request")
		return
	}

	results := license.BulkGrant(r.Context(), a.ledger, license.GrantParams{
		TenantID:      principal.TenantID,
		ApplicationID: strings.TrimSpace(req.ApplicationID),
		LicenseTypeID: strings.TrimSpace(req.LicenseTypeID),
		PerformedBy:   performedBy(principal),
		Reason:        req.Reason,
	}, req.UserIDs)
	writeJSON(w, http.StatusOK, bulkResponse{Results: results})
}

func (a *API) handleBulkRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requireAction(w, r, permission.ActionLicenseBulkRevoke)
	if !ok {
		return
	}
	var req bulkRevokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if principal.TenantID == "" {
		writeError(w, r, http.StatusBadRequest, "tenant context is required")
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "user_ids is required")
		return
	}
	if len(req.UserIDs) > maxBulkUsers {
		writeError(w, r, http.StatusBadRequest, "too many user_ids in one request")
		return
	}

	results := license.BulkRevoke(r.Context(), a.ledger, license.RevokeParams{
		TenantID:      principal.TenantID,
		ApplicationID: strings.TrimSpace(req.ApplicationID),
		PerformedBy:   performedBy(principal),
		Reason:        req.Reason,
	}, req.UserIDs)
	writeJSON(w, http.StatusOK, bulkResponse{Results: results})
}

func (a *API) handleFeature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.requireAction(w, r, permission.ActionEntitlementRead)
	if !ok {
		return
	}
	if a.entitlements == nil {
		writeError(w, r, http.StatusServiceUnavailable, "entitlement queries unavailable")
		return
	}
	feature := strings.TrimSpace(r.URL.Query().Get("feature"))
	if feature == "" {
		writeError(w, r, http.StatusBadRequest, "feature query parameter is required")
		return
	}
	applicationID := strings.TrimSpace(r.URL.Query().Get("application_id"))

	result, err := a.entitlements.CheckFeature(r.Context(), principal.TenantID, feature, applicationID)
	if err != nil {
		handleLicenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSeats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.requireAction(w, r, permission.ActionEntitlementRead)
	if !ok {
		return
	}
	if a.entitlements == nil {
		writeError(w, r, http.StatusServiceUnavailable, "entitlement queries unavailable")
		return
	}
	applicationID := strings.TrimSpace(r.URL.Query().Get("application_id"))

	result, err := a.entitlements.CheckSeats(r.Context(), principal.TenantID, applicationID)
	if err != nil {
		handleLicenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.requireAction(w, r, permission.ActionEntitlementRead)
	if !ok {
		return
	}
	if a.entitlements == nil {
		writeError(w, r, http.StatusServiceUnavailable, "entitlement queries unavailable")
		return
	}
	applicationID := strings.TrimSpace(r.URL.Query().Get("application_id"))

	result, err := a.entitlements.SubscriptionStatus(r.Context(), principal.TenantID, applicationID)
	if err != nil {
		handleLicenseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleLicenseError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, license.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, license.ErrNoSeatsAvailable), errors.Is(err, license.ErrAlreadyAssigned):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, license.ErrNotAssigned), errors.Is(err, license.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, license.ErrRetryable):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, license.ErrInvariantViolation):
		obs.LogEntry(map[string]any{
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
			"level":      "error",
			"msg":        "seat invariant violation",
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
