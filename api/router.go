package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

const (
	DashboardPath = "/api/unchained/dashboard"
	ContactPath   = "/api/contact"
	HealthPath    = "/health"
)

// NewRouter routes the dashboard and health endpoints. The contact handler is optional.
func NewRouter(handler *Handler, contact http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc(DashboardPath, handler.GetDashboard).Methods(http.MethodGet)
	router.HandleFunc(HealthPath, handler.GetHealth).Methods(http.MethodGet)
	if contact != nil {
		router.Handle(ContactPath, contact).Methods(http.MethodPost)
	}
	return router
}
