// Package guard decides whether the current session may open a destination.
package guard

import (
	"context"
	"path"
	"sort"
	"strings"

	console "github.com/chimerakang/hrconsole-go"
)

// Well-known destinations.
const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonPublic          Reason = "public"
	ReasonAuthenticated   Reason = "authenticated"
	ReasonRoleAllowed     Reason = "role_allowed"
	ReasonNoSession       Reason = "no_session"
	ReasonRoleDenied      Reason = "role_denied"
	ReasonPartialSession  Reason = "partial_session"
	ReasonStoreUnreadable Reason = "store_unreadable"
)

// Decision is the outcome of a navigation check. A denied destination must not
// be rendered; the caller goes to Redirect instead.
type Decision struct {
	Allowed  bool
	Redirect string
	Reason   Reason
}

type rule struct {
	prefix string
	public bool
	roles  map[console.Role]bool
}

// Guard checks destinations against the session store.
type Guard struct {
	store console.SessionStore
	rules []rule
}

// Option configures the Guard.
type Option func(*Guard)

// WithRule restricts destinations under prefix to roles, replacing any existing
// rule for the same prefix.
func WithRule(prefix string, roles ...console.Role) Option {
	return func(g *Guard) {
		r := rule{prefix: clean(prefix), roles: map[console.Role]bool{}}
		for _, role := range roles {
			r.roles[role] = true
		}
		g.setRule(r)
	}
}

// WithPublic marks destinations under prefix as reachable without a session.
func WithPublic(prefix string) Option {
	return func(g *Guard) {
		g.setRule(rule{prefix: clean(prefix), public: true})
	}
}

// New creates a Guard with the console's default rules.
func New(store console.SessionStore, opts ...Option) *Guard {
	g := &Guard{store: store}
	defaults := []Option{
		WithPublic(LoginPath),
		WithPublic("/2fa-verify"),
		WithPublic("/oauth2/redirect"),
		WithRule("/admin/users", console.RoleSuperAdmin),
		WithRule("/admin/audit-logs", console.RoleAdmin, console.RoleSuperAdmin),
		WithRule("/admin/sessions", console.RoleAdmin, console.RoleSuperAdmin),
	}
	for _, o := range append(defaults, opts...) {
		o(g)
	}
	return g
}

func (g *Guard) setRule(r rule) {
	for i := range g.rules {
		if g.rules[i].prefix == r.prefix {
			g.rules[i] = r
			return
		}
	}
	g.rules = append(g.rules, r)
	// Longest prefix first so the most specific rule wins.
	sort.SliceStable(g.rules, func(i, j int) bool {
		return len(g.rules[i].prefix) > len(g.rules[j].prefix)
	})
}

// IsAuthorized reports whether a session is present.
func (g *Guard) IsAuthorized(ctx context.Context) bool {
	s, err := g.store.Get(ctx)
	return err == nil && s.Authenticated()
}

// Check decides whether destination may be opened.
func (g *Guard) Check(ctx context.Context, destination string) Decision {
	dest := clean(destination)
	r, matched := g.match(dest)
	if matched && r.public {
		return Decision{Allowed: true, Reason: ReasonPublic}
	}

	s, err := g.store.Get(ctx)
	if err != nil {
		return Decision{Redirect: LoginPath, Reason: ReasonStoreUnreadable}
	}
	if !s.Authenticated() {
		return Decision{Redirect: LoginPath, Reason: ReasonNoSession}
	}
	if !matched || len(r.roles) == 0 {
		return Decision{Allowed: true, Reason: ReasonAuthenticated}
	}
	if !s.HasRole() {
		return Decision{Redirect: DashboardPath, Reason: ReasonPartialSession}
	}
	if !r.roles[s.Role] {
		return Decision{Redirect: DashboardPath, Reason: ReasonRoleDenied}
	}
	return Decision{Allowed: true, Reason: ReasonRoleAllowed}
}

// Visible reports whether destination should appear in navigation.
func (g *Guard) Visible(ctx context.Context, destination string) bool {
	return g.Check(ctx, destination).Allowed
}

// Allows reports whether role satisfies the rule for destination, ignoring
// the stored session.
func (g *Guard) Allows(role console.Role, destination string) bool {
	r, matched := g.match(clean(destination))
	if !matched || r.public || len(r.roles) == 0 {
		return true
	}
	return r.roles[role]
}

func (g *Guard) match(dest string) (rule, bool) {
	for _, r := range g.rules {
		if dest == r.prefix || strings.HasPrefix(dest, r.prefix+"/") {
			return r, true
		}
	}
	return rule{}, false
}

func clean(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
