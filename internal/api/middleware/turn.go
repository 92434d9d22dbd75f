package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Response headers the turn handler sets so request logs and spans carry the
// routed outcome of the turn.
const (
	HeaderSession = "X-Scenepilot-Session"
	HeaderAction  = "X-Scenepilot-Action"
)

type turnInfo struct {
	route   string
	session string
	action  string
}

// turnInfoOf reads the matched route and the session/action of a finished
// request. Call it after the handler ran: chi fills the route context while
// routing.
func turnInfoOf(r *http.Request, h http.Header) turnInfo {
	info := turnInfo{session: h.Get(HeaderSession), action: h.Get(HeaderAction)}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		info.route = rc.RoutePattern()
		if info.session == "" {
			info.session = rc.URLParam("sessionId")
		}
	}
	return info
}
