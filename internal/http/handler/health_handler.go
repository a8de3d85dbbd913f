package handler

import (
	"net/http"
)

// HealthCheckHandler returns HTTP 200 OK. It is used for health checks by
// Docker or other services.
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
