// Package permission evaluates whether permission patterns grant actions.
//
// A pattern is either the global wildcard "*", one of a fixed set of
// namespace wildcards ("tenant:*", "members:*", ...), an arbitrary pattern
// ending in ":*", or a literal "resource:action" string. Both role-based and
// credential-based authorization paths go through Matches so the two can
// never drift apart.
package permission

import "strings"

// Global matches every action.
const Global = "*"

// namespaceWildcards maps the recognized namespace wildcard patterns to the
// raw string prefix they match against. Matching is on the prefix of the
// whole action, not on a colon-delimited segment: "tenant:*" matches
// "tenant:view" and "tenant:sso:manage", but also any action that merely
// begins with the substring "tenant". Keep this table as an explicit
// enumeration; do not generalize it.
var namespaceWildcards = map[string]string{
	"tenant:*":           "tenant",
	"members:*":          "members",
	"licenses:*":         "licenses",
	"service-accounts:*": "service-accounts",
	"domains:*":          "domains",
	"billing:*":          "billing",
	"app-access:*":       "app-access",
	"tenant:sso:*":       "tenant:sso",
}

// Matches reports whether a single pattern grants the requested action.
func Matches(pattern, action string) bool {
	if pattern == Global {
		return true
	}
	if prefix, ok := namespaceWildcards[pattern]; ok {
		return strings.HasPrefix(action, prefix)
	}
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(action, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == action
}

// HasPermission reports whether any pattern in the set grants the action.
func HasPermission(patterns map[string]struct{}, action string) bool {
	for p := range patterns {
		if Matches(p, action) {
			return true
		}
	}
	return false
}

// HasAll returns the first action from required that no pattern grants, or
// "" when the whole list is granted. An empty required list always passes.
func HasAll(patterns map[string]struct{}, required []string) string {
	for _, action := range required {
		if !HasPermission(patterns, action) {
			return action
		}
	}
	return ""
}

// Set builds a pattern set from a list, dropping empty entries.
func Set(patterns []string) map[string]struct{} {
	set := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}
