package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/drivepacer/drivepacer/internal/core"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Phase     string `json:"phase,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthHandler handles aggregate health check requests. The server is
// healthy whenever it can answer; the governor phase is reported alongside.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Version:   AppVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if statusProvider != nil {
		response.Phase = string(statusProvider().Phase)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler handles liveness probe requests. The process is live as
// long as the server answers.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	response := ProbeResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles readiness probe requests. The governor is ready
// only once the control loop has connected and is actively steering.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if statusProvider == nil {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "readiness probe failed")
		envelope = envelope.WithDetails(map[string]interface{}{"probe": "ready", "reason": "no status source"})
		respondWithError(w, r, envelope)
		return
	}

	status := statusProvider()
	if status.Phase != core.PhaseRunning {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "readiness probe failed")
		envelope = envelope.WithDetails(map[string]interface{}{"probe": "ready", "phase": string(status.Phase)})
		respondWithError(w, r, envelope)
		return
	}

	response := ProbeResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
