package nav

// Kind is the outcome of resolving a route.
type Kind int

const (
	// Render shows the page.
	Render Kind = iota
	// Redirect sends the client to Decision.Target.
	Redirect
	// Wait holds the page while the session probe is still running.
	Wait
	// NotFound is any unknown path.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	case Wait:
		return "wait"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Page names a routable page.
type Page string

const (
	PageRegister  Page = "register"
	PageLogin     Page = "login"
	PageDashboard Page = "dashboard"
)

// Decision is what a route resolves to.
type Decision struct {
	Kind   Kind
	Page   Page
	Target string
}

// Guard decides whether a protected page may render.
type Guard interface {
	Guard() Decision
}

type route struct {
	page      Page
	protected bool
	redirect  string
}

// Router is the client route table.
type Router struct {
	loginPath string
	routes    map[string]route
}

// NewRouter builds the default table: "/" goes to the dashboard, register and
// login are public, the dashboard is protected.
func NewRouter(loginPath string) *Router {
	if loginPath = cleanPath(loginPath); loginPath == "/" {
		loginPath = DefaultLoginPath
	}
	return &Router{loginPath: loginPath, routes: map[string]route{
		"/":          {redirect: "/dashboard"},
		"/register":  {page: PageRegister},
		loginPath:    {page: PageLogin},
		"/dashboard": {page: PageDashboard, protected: true},
	}}
}

// Resolve maps path to a Decision. g may be nil for public-only use; a nil
// guard treats protected pages as unauthenticated.
func (r *Router) Resolve(path string, g Guard) Decision {
	rt, ok := r.routes[cleanPath(path)]
	if !ok {
		return Decision{Kind: NotFound}
	}
	if rt.redirect != "" {
		return Decision{Kind: Redirect, Target: rt.redirect}
	}
	if !rt.protected {
		return Decision{Kind: Render, Page: rt.page}
	}
	if g == nil {
		return Decision{Kind: Redirect, Target: r.loginPath}
	}
	d := g.Guard()
	if d.Kind == Render {
		d.Page = rt.page
	}
	return d
}
