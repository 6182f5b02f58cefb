package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/authvital/authvital/internal/apikey"
	"github.com/authvital/authvital/internal/auth"
	"github.com/authvital/authvital/internal/entitlement"
	"github.com/authvital/authvital/internal/license"
	"github.com/authvital/authvital/internal/permission"
)

const (
	testTenant      = "tenant-1"
	testApp         = "app-1"
	testSecretKey   = "unit-test-signing-secret"
	testLicenseType = "lt-pro"
)

type testEnv struct {
	t       *testing.T
	baseURL string
	client  *http.Client
	secret  string
	ledger  *license.InMemory
	roles   *auth.InMemoryRoles
}

// newTestEnv builds a server over in-memory stores with one credential
// holding the given permission patterns.
func newTestEnv(t *testing.T, credentialPerms []string) *testEnv {
	t.Helper()

	credStore := apikey.NewInMemory()
	keys := apikey.NewService(credStore)
	_, secret, err := keys.Issue(context.Background(), apikey.IssueParams{
		OwnerID:     testTenant,
		Name:        "test key",
		Permissions: credentialPerms,
	})
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	ledger := license.NewInMemory()
	ledger.AddLicenseType(license.LicenseType{
		ID:            testLicenseType,
		ApplicationID: testApp,
		Slug:          "pro",
		Name:          "Pro",
		Features:      map[string]bool{"sso": true},
		Status:        license.StatusActive,
	})
	ledger.AddSubscription(license.Subscription{
		TenantID:          testTenant,
		ApplicationID:     testApp,
		LicenseTypeID:     testLicenseType,
		QuantityPurchased: 2,
		Status:            license.StatusActive,
		CurrentPeriodEnd:  time.Now().Add(24 * time.Hour),
	})

	roles := auth.NewInMemoryRoles()
	engine, err := auth.NewEngine(roles)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	resolver, err := entitlement.NewResolver(ledger)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	api, err := New(Config{
		Validator:    apikey.NewValidator(credStore),
		Keys:         keys,
		Engine:       engine,
		Ledger:       ledger,
		Entitlements: resolver,
		TenantSecret: []byte(testSecretKey),
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		t:       t,
		baseURL: srv.URL,
		client:  srv.Client(),
		secret:  secret,
		ledger:  ledger,
		roles:   roles,
	}
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *http.Response {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.secret != "" {
		req.Header.Set("Authorization", "Bearer "+e.secret)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpointsArePublic(t *testing.T) {
	env := newTestEnv(t, nil)
	env.secret = ""

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := env.do(http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestMissingCredentialRejected(t *testing.T) {
	env := newTestEnv(t, []string{permission.LicensesView})
	env.secret = ""

	resp := env.do(http.MethodGet, "/v1/entitlements/seats", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBogusCredentialRejected(t *testing.T) {
	env := newTestEnv(t, []string{permission.LicensesView})
	env.secret = "av_live_0123456789abcdef0123456789abcdef"

	resp := env.do(http.MethodGet, "/v1/entitlements/seats", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGrantEndToEnd(t *testing.T) {
	env := newTestEnv(t, []string{permission.LicensesAssign, permission.LicensesView})

	body := map[string]any{
		"user_id":         "user-1",
		"application_id":  testApp,
		"license_type_id": testLicenseType,
	}
	resp := env.do(http.MethodPost, "/v1/licenses/grant", body, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var assignment license.Assignment
	decodeBody(t, resp, &assignment)
	if assignment.UserID != "user-1" || assignment.TenantID != testTenant {
		t.Fatalf("unexpected assignment: %+v", assignment)
	}

	// A second grant for the same user conflicts.
	resp = env.do(http.MethodPost, "/v1/licenses/grant", body, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate grant, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/v1/entitlements/seats?application_id="+testApp, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var seats entitlement.SeatsResult
	decodeBody(t, resp, &seats)
	if seats.SeatsAssigned != 1 || seats.SeatsAvailable != 1 {
		t.Fatalf("unexpected seat counts: %+v", seats)
	}
}

func TestGrantForbiddenWithoutPermission(t *testing.T) {
	env := newTestEnv(t, []string{permission.LicensesView})

	resp := env.do(http.MethodPost, "/v1/licenses/grant", map[string]any{
		"user_id":         "user-1",
		"application_id":  testApp,
		"license_type_id": testLicenseType,
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	var payload map[string]any
	decodeBody(t, resp, &payload)
	msg, _ := payload["error"].(string)
	if msg == "" || !bytes.Contains([]byte(msg), []byte(permission.LicensesAssign)) {
		t.Fatalf("expected missing permission in error, got %q", msg)
	}
}

func TestTenantContextGrantsRolePermissions(t *testing.T) {
	// Credential carries no patterns; the admin role attached to the user's
	// membership supplies them once the tenant token is presented.
	env := newTestEnv(t, nil)
	env.roles.Assign(testTenant, "admin-user", auth.Role{
		ID:     "role-1",
		Slug:   permission.RoleAdmin,
		System: true,
	})
	token, err := auth.SignTenantToken([]byte(testSecretKey), "admin-user", testTenant, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	body := map[string]any{
		"user_id":         "user-2",
		"application_id":  testApp,
		"license_type_id": testLicenseType,
	}
	resp := env.do(http.MethodPost, "/v1/licenses/grant", body, map[string]string{
		"X-Tenant-Context": token,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 via role permissions, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Without the token the same credential has no permissions at all.
	resp = env.do(http.MethodPost, "/v1/licenses/grant", body, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without tenant context, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTamperedTenantTokenRejected(t *testing.T) {
	env := newTestEnv(t, []string{permission.LicensesAssign})
	token, err := auth.SignTenantToken([]byte("some-other-secret"), "admin-user", testTenant, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resp := env.do(http.MethodPost, "/v1/licenses/grant", map[string]any{
		"user_id":         "user-1",
		"application_id":  testApp,
		"license_type_id": testLicenseType,
	}, map[string]string{"X-Tenant-Context": token})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBulkGrantReportsPartialSuccess(t *testing.T) {
	env := newTestEnv(t, []string{permission.LicensesAssign})

	// Pool of two seats, three users: exactly one must fail.
	resp := env.do(http.MethodPost, "/v1/licenses/bulk-grant", map[string]any{
		"user_ids":        []string{"u1", "u2", "u3"},
		"application_id":  testApp,
		"license_type_id": testLicenseType,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out bulkResponse
	decodeBody(t, resp, &out)
	if len(out.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out.Results))
	}
	succeeded := 0
	for _, res := range out.Results {
		if res.Success {
			succeeded++
		} else if res.Error == "" {
			t.Fatalf("failed item missing error: %+v", res)
		}
	}
	if succeeded != 2 {
		t.Fatalf("expected 2 successes, got %d", succeeded)
	}
}

func TestRevokeThenSeatFreed(t *testing.T) {
	env := newTestEnv(t, []string{
		permission.LicensesAssign, permission.LicensesRevoke, permission.LicensesView,
	})

	grant := map[string]any{
		"user_id":         "user-1",
		"application_id":  testApp,
		"license_type_id": testLicenseType,
	}
	resp := env.do(http.MethodPost, "/v1/licenses/grant", grant, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(http.MethodPost, "/v1/licenses/revoke", map[string]any{
		"user_id":        "user-1",
		"application_id": testApp,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Revoking again reports the assignment as gone.
	resp = env.do(http.MethodPost, "/v1/licenses/revoke", map[string]any{
		"user_id":        "user-1",
		"application_id": testApp,
	}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second revoke: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/v1/entitlements/seats?application_id="+testApp, nil, nil)
	var seats entitlement.SeatsResult
	decodeBody(t, resp, &seats)
	if seats.SeatsAssigned != 0 || seats.SeatsAvailable != 2 {
		t.Fatalf("unexpected seat counts after revoke: %+v", seats)
	}
}

func TestFeatureQuery(t *testing.T) {
	env := newTestEnv(t, []string{permission.LicensesView})

	params := url.Values{"feature": {"sso"}, "application_id": {testApp}}
	resp := env.do(http.MethodGet, "/v1/entitlements/feature?"+params.Encode(), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result entitlement.FeatureResult
	decodeBody(t, resp, &result)
	if !result.HasAccess {
		t.Fatalf("expected sso access: %+v", result)
	}

	params.Set("feature", "quantum")
	resp = env.do(http.MethodGet, "/v1/entitlements/feature?"+params.Encode(), nil, nil)
	decodeBody(t, resp, &result)
	if result.HasAccess || result.Reason == "" {
		t.Fatalf("expected denial with reason: %+v", result)
	}
}

func TestKeyLifecycle(t *testing.T) {
	env := newTestEnv(t, []string{
		permission.ServiceAccountsManage, permission.ServiceAccountsView,
	})

	resp := env.do(http.MethodPost, "/v1/keys", map[string]any{
		"name":        "ci key",
		"permissions": []string{permission.LicensesView},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	var created createKeyResponse
	decodeBody(t, resp, &created)
	if created.Secret == "" {
		t.Fatalf("expected plaintext secret in creation response")
	}
	if created.Credential.OwnerID != testTenant {
		t.Fatalf("unexpected owner: %+v", created.Credential)
	}

	resp = env.do(http.MethodGet, "/v1/keys", nil, nil)
	var listing struct {
		Items []apikey.Credential `json:"items"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Items) != 2 {
		t.Fatalf("expected 2 keys (harness + created), got %d", len(listing.Items))
	}

	resp = env.do(http.MethodDelete, "/v1/keys/"+created.Credential.ID, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(http.MethodDelete, "/v1/keys/"+created.Credential.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second revoke: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestKeyUpdateDeactivates(t *testing.T) {
	env := newTestEnv(t, []string{
		permission.ServiceAccountsManage, permission.ServiceAccountsView,
	})

	resp := env.do(http.MethodPost, "/v1/keys", map[string]any{"name": "temp"}, nil)
	var created createKeyResponse
	decodeBody(t, resp, &created)

	active := false
	resp = env.do(http.MethodPatch, "/v1/keys/"+created.Credential.ID, updateKeyRequest{
		Active: &active,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	var updated apikey.Credential
	decodeBody(t, resp, &updated)
	if updated.Active {
		t.Fatalf("expected credential deactivated")
	}
}
