package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/drivepacer/drivepacer/internal/core"
	apperrors "github.com/drivepacer/drivepacer/internal/errors"
)

// StatusProvider returns the current governor status. The monitor command
// wires the control loop in before the server starts.
type StatusProvider func() core.Status

var statusProvider StatusProvider

// SetStatusProvider installs the status source for the /status endpoint.
func SetStatusProvider(provider StatusProvider) {
	statusProvider = provider
}

// StatusHandler returns the live control-loop status as JSON.
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	if statusProvider == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("governor status not available"))
		return
	}

	status := statusProvider()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
