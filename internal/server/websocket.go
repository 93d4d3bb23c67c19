package server

import (
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: checkWebSocketOrigin,
}

// checkWebSocketOrigin allows same-origin and localhost requests; the
// daemon has no configured remote origins since it has no web UI of its own.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := originURL.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
