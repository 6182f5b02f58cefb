package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/authvital/authvital/internal/apikey"
	"github.com/authvital/authvital/internal/auth"
	"github.com/authvital/authvital/internal/permission"
)

const (
	authHeader   = "Authorization"
	bearerScheme = "Bearer "
	tenantHeader = "X-Tenant-Context"
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
}

// withAuth authenticates the API credential on every non-public path and
// resolves the optional tenant-context token. The tenant a request acts on
// comes only from verified claims or the credential's own owner, never from
// request input.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		secret, err := extractSecret(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		identity, err := a.validator.Validate(r.Context(), secret)
		if err != nil {
			switch {
			case errors.Is(err, apikey.ErrInvalidFormat),
				errors.Is(err, apikey.ErrInvalidCredential),
				errors.Is(err, apikey.ErrExpired):
				writeError(w, r, http.StatusUnauthorized, "invalid credential")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		principal := auth.Principal{
			TenantID:              identity.OwnerID,
			CredentialID:          identity.CredentialID,
			CredentialPermissions: identity.Permissions,
		}
		if token := strings.TrimSpace(r.Header.Get(tenantHeader)); token != "" {
			if len(a.tenantSecret) == 0 {
				writeError(w, r, http.StatusUnauthorized, "tenant context not supported")
				return
			}
			claims, err := auth.ParseTenantToken(a.tenantSecret, token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid tenant context")
				return
			}
			principal.UserID = claims.Subject
			principal.TenantID = claims.TenantID
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAction authorizes the request's principal for a declared action and
// writes the error response itself on failure.
func (a *API) requireAction(w http.ResponseWriter, r *http.Request, action string) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	if err := a.engine.RequireAll(r.Context(), principal, permission.RequiredFor(action)); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusForbidden, err.Error())
		} else {
			writeError(w, r, http.StatusInternalServerError, "authorization error")
		}
		return auth.Principal{}, false
	}
	return principal, true
}

func extractSecret(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing credential")
	}
	if strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		header = strings.TrimSpace(header[len(bearerScheme):])
	}
	if header == "" {
		return "", errors.New("missing credential")
	}
	return header, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// performedBy identifies the acting principal for audit rows.
func performedBy(p auth.Principal) string {
	if p.UserID != "" {
		return p.UserID
	}
	return "credential:" + p.CredentialID
}
