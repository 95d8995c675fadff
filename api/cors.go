package api

import "net/http"

// corsMiddleware adds permissive CORS headers so browser-hosted dashboards
// can talk to the simulator directly, including preflighted PATCH requests
// and Chrome's private-network access checks.
func corsMiddleware(next http.Handler) http.Handler {
	const (
		allowMethods = "GET, POST, PATCH, PUT, DELETE, OPTIONS"
		allowHeaders = "Content-Type, Authorization"
		varyValue    = "Origin, Access-Control-Request-Method, Access-Control-Request-Headers"
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", allowMethods)
		if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		} else {
			h.Set("Access-Control-Allow-Headers", allowHeaders)
		}
		h.Set("Access-Control-Max-Age", "86400")
		h.Set("Access-Control-Allow-Private-Network", "true")
		h.Add("Vary", varyValue)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
