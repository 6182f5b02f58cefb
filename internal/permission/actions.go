package permission

// Action identifiers for operations exposed by the service. Each maps to the
// permission list a caller must hold. The table is consulted by the HTTP
// authorization guard; declaring requirements here keeps them static and
// greppable instead of attached to handlers at runtime.
const (
	ActionLicenseGrant      = "licenses.grant"
	ActionLicenseRevoke     = "licenses.revoke"
	ActionLicenseChange     = "licenses.change"
	ActionLicenseBulkGrant  = "licenses.bulk_grant"
	ActionLicenseBulkRevoke = "licenses.bulk_revoke"
	ActionEntitlementRead   = "entitlements.read"
	ActionKeyCreate         = "keys.create"
	ActionKeyList           = "keys.list"
	ActionKeyRevoke         = "keys.revoke"
)

var requiredPermissions = map[string][]string{
	ActionLicenseGrant:      {LicensesAssign},
	ActionLicenseRevoke:     {LicensesRevoke},
	ActionLicenseChange:     {LicensesAssign},
	ActionLicenseBulkGrant:  {LicensesAssign},
	ActionLicenseBulkRevoke: {LicensesRevoke},
	ActionEntitlementRead:   {LicensesView},
	ActionKeyCreate:         {ServiceAccountsManage},
	ActionKeyList:           {ServiceAccountsView},
	ActionKeyRevoke:         {ServiceAccountsManage},
}

// RequiredFor returns the permissions a caller must hold to perform the
// action. Unknown action identifiers require nothing.
func RequiredFor(action string) []string {
	return requiredPermissions[action]
}
