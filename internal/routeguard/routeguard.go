package routeguard

import (
	"encoding/json"
	"net/http"

	"github.com/nkiryanov/jumenclient/internal/navigation"
)

type Action int

const (
	// Session is not known yet: show neutral placeholder, decide later
	Wait Action = iota
	Render
	Redirect
)

func (a Action) String() string {
	switch a {
	case Wait:
		return "wait"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

type Route struct {
	Path        string
	RequireAuth bool
}

type Decision struct {
	Action Action

	// Where to go for Redirect, empty otherwise
	Target string
}

// State is what the guard needs to know about the session
type State interface {
	IsLoading() bool
	Authenticated() bool
}

// Decide what to do with the route for the given session state
func Decide(state State, route Route) Decision {
	switch {
	case state.IsLoading():
		return Decision{Action: Wait}
	case route.RequireAuth && !state.Authenticated():
		return Decision{Action: Redirect, Target: navigation.SignIn}
	case !route.RequireAuth && state.Authenticated():
		return Decision{Action: Redirect, Target: navigation.Landing}
	default:
		return Decision{Action: Render}
	}
}

// Middleware applies Decide to every request of the route
//
//	Wait     -> 202 with Retry-After and neutral body
//	Redirect -> 303 to target
//	Render   -> next handler
func Middleware(source func() State, requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Decide(source(), Route{Path: r.URL.Path, RequireAuth: requireAuth})

			switch d.Action {
			case Wait:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusAccepted)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "loading"})
			case Redirect:
				http.Redirect(w, r, d.Target, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
