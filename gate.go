package sessionauth

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

// PathClass is the access class of a route.
type PathClass uint8

const (
	// PathPublic needs no session.
	PathPublic PathClass = iota
	// PathChallenge is the one-time code screen. It is only reachable while
	// a challenge is pending.
	PathChallenge
	// PathTenantDashboard is tenant-scoped and closed to superadmins.
	PathTenantDashboard
	// PathSuperadminConsole is reserved for superadmins.
	PathSuperadminConsole
)

func (c PathClass) String() string {
	switch c {
	case PathPublic:
		return "public"
	case PathChallenge:
		return "challenge"
	case PathTenantDashboard:
		return "tenant_dashboard"
	case PathSuperadminConsole:
		return "superadmin_console"
	default:
		return "unknown"
	}
}

// RouteTable classifies request paths. It is built once from RoutesConfig
// and is safe for concurrent use.
type RouteTable struct {
	cfg     RoutesConfig
	tenant  *chi.Mux
	console *chi.Mux
}

// NewRouteTable builds the classifier. The dashboard and the console each
// match themselves and anything below them.
func NewRouteTable(cfg RoutesConfig) RouteTable {
	noop := func(http.ResponseWriter, *http.Request) {}

	tenant := chi.NewRouter()
	tenant.Get(cleanPath(cfg.Dashboard), noop)
	tenant.Get(cleanPath(cfg.Dashboard)+"/*", noop)

	console := chi.NewRouter()
	console.Get(cleanPath(cfg.Superadmin), noop)
	console.Get(cleanPath(cfg.Superadmin)+"/*", noop)

	return RouteTable{cfg: cfg, tenant: tenant, console: console}
}

// Login is the login entry point.
func (r RouteTable) Login() string { return r.cfg.Login }

// Verify is the one-time code screen.
func (r RouteTable) Verify() string { return r.cfg.Verify }

// Dashboard is the tenant landing page.
func (r RouteTable) Dashboard() string { return r.cfg.Dashboard }

// Superadmin is the console landing page.
func (r RouteTable) Superadmin() string { return r.cfg.Superadmin }

// IsLogin reports whether path is the login screen.
func (r RouteTable) IsLogin(path string) bool {
	return path != "" && cleanPath(path) == cleanPath(r.cfg.Login)
}

// Classify returns the access class of path. Matching ignores case, query
// strings, repeated and trailing slashes, and dot segments. Unknown paths
// are public.
func (r RouteTable) Classify(path string) PathClass {
	p := cleanPath(path)
	switch {
	case r.console != nil && r.console.Match(chi.NewRouteContext(), http.MethodGet, p):
		return PathSuperadminConsole
	case r.tenant != nil && r.tenant.Match(chi.NewRouteContext(), http.MethodGet, p):
		return PathTenantDashboard
	case p == cleanPath(r.cfg.Verify):
		return PathChallenge
	default:
		return PathPublic
	}
}

// DecisionKind is what the host should do with a navigation.
type DecisionKind uint8

const (
	// DecisionLoading means hydration has not settled; show a placeholder.
	DecisionLoading DecisionKind = iota
	// DecisionRender means the route may be shown.
	DecisionRender
	// DecisionRedirect means navigate to Decision.To instead.
	DecisionRedirect
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionLoading:
		return "loading"
	case DecisionRender:
		return "render"
	case DecisionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the result of [Decide]. From is set on login redirects and
// holds the path to return to after signing in.
type Decision struct {
	Kind DecisionKind
	To   string
	From string
}

func (d Decision) String() string {
	switch d.Kind {
	case DecisionRedirect:
		if d.From != "" {
			return "redirect " + d.To + " (from " + d.From + ")"
		}
		return "redirect " + d.To
	default:
		return d.Kind.String()
	}
}

// Decide authorizes a navigation to path. It is pure and total, and hosts
// call it on every navigation without caching the result.
//
// Public paths always render. For protected paths, in order:
//  1. while hydrating, wait;
//  2. without a session, go to login and remember path;
//  3. a superadmin asking for a tenant dashboard goes to the console;
//  4. anyone else asking for the console goes to the tenant dashboard;
//  5. otherwise render.
//
// The challenge screen renders only while a challenge is pending and sends
// everyone else to login.
func Decide(state State, path string, routes RouteTable) Decision {
	class := routes.Classify(path)
	if class == PathPublic {
		return Decision{Kind: DecisionRender}
	}

	if _, ok := state.(Hydrating); ok {
		return Decision{Kind: DecisionLoading}
	}

	if class == PathChallenge {
		switch state.(type) {
		case ChallengePending, ChallengeFailed:
			return Decision{Kind: DecisionRender}
		}
		return Decision{Kind: DecisionRedirect, To: routes.Login()}
	}

	auth, ok := state.(Authenticated)
	if !ok {
		return Decision{Kind: DecisionRedirect, To: routes.Login(), From: path}
	}

	switch auth.Identity.Role() {
	case RoleSuperadmin:
		if class == PathTenantDashboard {
			return Decision{Kind: DecisionRedirect, To: routes.Superadmin()}
		}
	case RoleAdmin, RoleViewer:
		if class == PathSuperadminConsole {
			return Decision{Kind: DecisionRedirect, To: routes.Dashboard()}
		}
	default:
		return Decision{Kind: DecisionRedirect, To: routes.Login(), From: path}
	}

	return Decision{Kind: DecisionRender}
}

// LandingPath picks where to go after signing in. from is the path carried
// by the login redirect and is honored only when the identity may see it.
func LandingPath(id Identity, from string, routes RouteTable) string {
	switch id.Role() {
	case RoleSuperadmin:
		if from != "" && routes.Classify(from) == PathSuperadminConsole {
			return from
		}
		return routes.Superadmin()
	case RoleAdmin, RoleViewer:
		if from != "" && routes.Classify(from) == PathTenantDashboard {
			return from
		}
		return routes.Dashboard()
	default:
		return routes.Login()
	}
}

func cleanPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if u, err := url.PathUnescape(p); err == nil {
		p = u
	}
	return strings.ToLower(path.Clean("/" + p))
}
