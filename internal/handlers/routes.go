package handlers

import (
	"github.com/gorilla/mux"
)

func RegisterRoutes(r *mux.Router, dh *DashboardHandler, health HealthChecker) {
	r.HandleFunc("/healthz", HandleHealth(health)).Methods("GET")
	r.HandleFunc("/api/endpoints", dh.ListEndpoints).Methods("GET")
	r.HandleFunc("/tables/{endpoint}", dh.ServeTable).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/cache/invalidate", dh.InvalidateCache).Methods("POST")
	admin.HandleFunc("/cache/refetch/{endpoint}", dh.RefetchCache).Methods("POST")
	admin.HandleFunc("/export/{endpoint}", dh.ExportSnapshot).Methods("POST")
	admin.HandleFunc("/exports/{endpoint}", dh.ListExports).Methods("GET")
}
