package permission

// Tenant-scoped permission keys. These are the concrete actions checked at
// call sites; role definitions below grant them via literal keys or namespace
// wildcards.
const (
	TenantView   = "tenant:view"
	TenantManage = "tenant:manage"
	TenantDelete = "tenant:delete"

	TenantSSOView   = "tenant:sso:view"
	TenantSSOManage = "tenant:sso:manage"

	MembersView   = "members:view"
	MembersInvite = "members:invite"
	MembersManage = "members:manage"
	MembersRemove = "members:remove"

	LicensesView   = "licenses:view"
	LicensesAssign = "licenses:assign"
	LicensesRevoke = "licenses:revoke"
	LicensesManage = "licenses:manage"

	ServiceAccountsView   = "service-accounts:view"
	ServiceAccountsManage = "service-accounts:manage"

	DomainsView   = "domains:view"
	DomainsManage = "domains:manage"

	BillingView   = "billing:view"
	BillingManage = "billing:manage"

	AppAccessView   = "app-access:view"
	AppAccessManage = "app-access:manage"
)

// System role slugs seeded for every tenant.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// SystemRolePermissions holds the seeded pattern lists for the three system
// roles. Owner gets every namespace wildcard. Admin gets an explicit list
// that excludes tenant deletion and billing provisioning. Member is
// view-only.
var SystemRolePermissions = map[string][]string{
	RoleOwner: {
		"tenant:*",
		"members:*",
		"licenses:*",
		"service-accounts:*",
		"domains:*",
		"billing:*",
		"app-access:*",
	},
	RoleAdmin: {
		TenantView, TenantManage,
		TenantSSOView, TenantSSOManage,
		MembersView, MembersInvite, MembersManage, MembersRemove,
		LicensesView, LicensesAssign, LicensesRevoke, LicensesManage,
		ServiceAccountsView, ServiceAccountsManage,
		DomainsView, DomainsManage,
		BillingView,
		AppAccessView, AppAccessManage,
	},
	RoleMember: {
		TenantView,
		MembersView,
		LicensesView,
		DomainsView,
		AppAccessView,
	},
}

// RolePatterns returns the pattern set for a system role, or nil when the
// slug is not a system role.
func RolePatterns(slug string) map[string]struct{} {
	perms, ok := SystemRolePermissions[slug]
	if !ok {
		return nil
	}
	return Set(perms)
}

// IsSystemRole reports whether the slug names one of the seeded roles.
func IsSystemRole(slug string) bool {
	_, ok := SystemRolePermissions[slug]
	return ok
}
