package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps the standard library ServeMux.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
	r.Handle("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok("healthy"))
	})
	return r
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterPatientRoutes registers registration, detail, roster and vitals routes.
func (r *Router) RegisterPatientRoutes(p *PatientHandler) {
	r.Handle("POST /api/v1/patients", p.CreatePatient)
	r.Handle("GET /api/v1/patients/{id}", p.GetPatient)
	r.Handle("GET /api/v1/roster", p.GetRoster)
	r.Handle("POST /api/v1/patients/{id}/vitals", p.SubmitVitals)
	r.Handle("POST /api/v1/patients/{id}/vitals/import", p.ImportVitals)
	r.Handle("GET /api/v1/patients/{id}/vitals/export", p.ExportVitals)
	r.Handle("POST /api/v1/patients/{id}/symptoms", p.AppendSymptom)
	r.Handle("PUT /api/v1/patients/{id}/notes", p.UpdateNotes)
}

// RegisterAlertRoutes registers the alert log.
func (r *Router) RegisterAlertRoutes(a *AlertHandler) {
	r.Handle("GET /api/v1/alerts", a.ListAlerts)
}

// RegisterLiveRoutes registers the WebSocket streams.
func (r *Router) RegisterLiveRoutes(l *LiveHandler) {
	r.Handle("GET /ws/v1/patients/{id}", l.PatientStream)
	r.Handle("GET /ws/v1/roster", l.RosterStream)
}
