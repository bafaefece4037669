package health

import "net/http"

// securityHeadersMiddleware strips the Go-version-revealing Server
// header this surface would otherwise emit by default; it is local-only
// but still reachable from any process on the host.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "kanban-orchestrator")
		next.ServeHTTP(w, r)
	})
}
