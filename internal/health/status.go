package health

import "net/http"

// Status serves the public liveness routes together with the number of calls
// currently bridged.
type Status struct {
	service  string
	sessions func() int
}

// NewStatus returns a Status reporting service as its name. sessions is
// called on every request and must be safe for concurrent use.
func NewStatus(service string, sessions func() int) *Status {
	return &Status{service: service, sessions: sessions}
}

type rootResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	ActiveSessions int    `json:"activeSessions"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Root handles GET /.
func (s *Status) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Status:         "healthy",
		Service:        s.service,
		ActiveSessions: s.sessions(),
	})
}

// Health handles GET /health.
func (s *Status) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: s.sessions()})
}

// Register adds the / and /health routes to mux. "GET /{$}" matches only
// the root so unknown paths still 404.
func (s *Status) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.Root)
	mux.HandleFunc("GET /health", s.Health)
}
