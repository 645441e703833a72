// Package routing decides which client route a session may open.
//
// A session is in one of three states: anonymous, new (account younger than
// the new-user window) or established. New accounts are held inside the intro
// questions until the window closes; established accounts can no longer enter
// them and land on the category selection instead.
package routing

import (
	"net/url"
	"strings"
	"time"
)

type State string

const (
	StateAnonymous   State = "anonymous"
	StateNew         State = "new"
	StateEstablished State = "established"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindPublic
	KindIntro
	KindProtected
)

const (
	RouteHome       = "/"
	RouteLogin      = "/login"
	RouteIntroEntry = "/career"
	RouteCategories = "/categories"
)

// DefaultNewUserWindow is how long a fresh account counts as new.
const DefaultNewUserWindow = 60 * time.Second

var routes = map[string]Kind{
	"/":        KindPublic,
	"/login":   KindPublic,
	"/privacy": KindPublic,
	"/terms":   KindPublic,

	"/career":          KindIntro,
	"/finances":        KindIntro,
	"/personal-growth": KindIntro,
	"/confidence":      KindIntro,
	"/health":          KindIntro,
	"/relationships":   KindIntro,

	"/processing":    KindProtected,
	"/categories":    KindProtected,
	"/focus":         KindProtected,
	"/visualization": KindProtected,
	"/feedback":      KindProtected,
	"/settings":      KindProtected,
	"/edit-category": KindProtected,
	"/paywall":       KindProtected,
	"/share":         KindProtected,
}

type Session struct {
	Authenticated bool
	AccountAge    time.Duration
}

type Decision struct {
	Route      string `json:"route"`
	State      State  `json:"state"`
	Allow      bool   `json:"allow"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// StateOf classifies a session. A non-positive window disables the new state.
func StateOf(s Session, window time.Duration) State {
	switch {
	case !s.Authenticated:
		return StateAnonymous
	case s.AccountAge < window:
		return StateNew
	default:
		return StateEstablished
	}
}

// Home is where a session in the given state starts.
func Home(state State) string {
	switch state {
	case StateNew:
		return RouteIntroEntry
	case StateEstablished:
		return RouteCategories
	default:
		return RouteLogin
	}
}

// KindOf looks up the normalized route.
func KindOf(route string) Kind {
	return routes[Normalize(route)]
}

// Normalize reduces a client path to the route it belongs to: query and
// fragment dropped, lower-cased, and only the first segment kept so that
// "/edit-category/health" maps to "/edit-category".
func Normalize(route string) string {
	if u, err := url.Parse(route); err == nil {
		route = u.Path
	}
	route = strings.ToLower(strings.TrimSpace(route))
	route = strings.Trim(route, "/")
	if route == "" {
		return RouteHome
	}
	if i := strings.IndexByte(route, '/'); i >= 0 {
		route = route[:i]
	}
	return "/" + route
}

// Decide evaluates the guard for one navigation.
func Decide(s Session, route string, window time.Duration) Decision {
	route = Normalize(route)
	state := StateOf(s, window)
	d := Decision{Route: route, State: state}

	kind := KindOf(route)
	if kind == KindUnknown {
		d.RedirectTo = RouteHome
		return d
	}

	switch state {
	case StateAnonymous:
		if kind != KindPublic {
			d.RedirectTo = RouteLogin
			return d
		}
	case StateNew:
		if kind == KindProtected || route == RouteLogin {
			d.RedirectTo = RouteIntroEntry
			return d
		}
	case StateEstablished:
		if kind == KindIntro || route == RouteLogin {
			d.RedirectTo = RouteCategories
			return d
		}
	}
	d.Allow = true
	return d
}
