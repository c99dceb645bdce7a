package gateway

import (
	"encoding/json"
	"net/http"

	"permgate/internal/domain"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CheckedAll    bool   `json:"checked_all"`
	Permissions   int    `json:"permissions"`
	Passing       int    `json:"passing"`
	Clients       int    `json:"clients"`
}

// PermissionsResponse is the JSON body returned by GET /api/v1/permissions.
type PermissionsResponse struct {
	CheckedAll  bool                 `json:"checked_all"`
	Permissions domain.PermissionMap `json:"permissions"`
}

// RegisterRESTHandlers registers the HTTP endpoints on the gateway server.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) {
	authMiddleware := func(next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.auth.Authenticate(requestToken(r)); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		})
	}

	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(s, deps)))
	s.RegisterHTTPRoute("/api/v1/permissions", authMiddleware(permissionsHandler(deps)))
	metrics := s.metrics.Handler()
	s.RegisterHTTPRoute("/metrics", authMiddleware(metrics.ServeHTTP))
}

func statusHandler(s *Server, deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := deps.Coordinator.Snapshot()
		passing := 0
		for _, v := range snap {
			if v.Pass {
				passing++
			}
		}
		writeJSON(w, StatusResponse{
			Name:          "permgate",
			Version:       deps.Version,
			UptimeSeconds: int64(s.Uptime().Seconds()),
			CheckedAll:    deps.Coordinator.HasCheckedAll(),
			Permissions:   deps.Coordinator.Catalogue().Len(),
			Passing:       passing,
			Clients:       s.ClientCount(),
		})
	}
}

func permissionsHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, PermissionsResponse{
			CheckedAll:  deps.Coordinator.HasCheckedAll(),
			Permissions: deps.Coordinator.Snapshot(),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
