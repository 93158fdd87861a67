// Package roles holds the pure role classification and routing rules. Nothing
// here performs I/O, so every decision can be tested without a store or a
// live subscription.
package roles

import (
	"strings"

	"github.com/eventgate/backend/internal/models"
)

// Whitelist is the fixed set of identities that always resolve to admin.
type Whitelist map[string]struct{}

// NewWhitelist builds a whitelist from raw addresses, normalizing case and
// surrounding space. Blank entries are skipped.
func NewWhitelist(emails ...string) Whitelist {
	w := make(Whitelist, len(emails))
	for _, e := range emails {
		if key := normalize(e); key != "" {
			w[key] = struct{}{}
		}
	}
	return w
}

// Contains reports whether email is whitelisted.
func (w Whitelist) Contains(email string) bool {
	_, ok := w[normalize(email)]
	return ok
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Classify returns the effective role for a user. A whitelisted email is
// always admin regardless of what is stored; otherwise the stored role is
// used, and anything unknown falls back to student.
func Classify(email string, stored models.Role, whitelist Whitelist) models.Role {
	if whitelist.Contains(email) {
		return models.RoleAdmin
	}
	if stored.Valid() {
		return stored
	}
	return models.RoleStudent
}

func rank(r models.Role) int {
	switch r {
	case models.RoleAdmin:
		return 3
	case models.RoleOfficer:
		return 2
	case models.RoleStudent:
		return 1
	}
	return 0
}

// Allowed reports whether role satisfies required. Roles are ordered
// admin > officer > student; an unknown role satisfies nothing.
func Allowed(role, required models.Role) bool {
	return rank(role) > 0 && rank(role) >= rank(required)
}

// Landing returns the dashboard path for role.
func Landing(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "/admin"
	case models.RoleOfficer:
		return "/officer"
	}
	return "/student"
}

// Decision is the outcome of a routing check.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

// Route decides whether role may stay on a page that requires required. When
// it may not, Redirect names the caller's own landing page.
func Route(role, required models.Role) Decision {
	if Allowed(role, required) {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: Landing(role)}
}
