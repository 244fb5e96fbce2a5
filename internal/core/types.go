package core

import "time"

// Phase identifies the control loop state.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseRunning    Phase = "running"
	PhaseTerminated Phase = "terminated"
)

// StatsSnapshot is one reading of the transfer engine's core/stats endpoint.
// Errors and Bytes are cumulative and monotonically non-decreasing for the
// lifetime of the engine process.
type StatsSnapshot struct {
	Errors       int64          `json:"errors"`
	Bytes        int64          `json:"bytes"`
	TotalBytes   int64          `json:"totalBytes,omitempty"`
	LastError    string         `json:"lastError,omitempty"`
	Speed        float64        `json:"speed"`
	ETA          *float64       `json:"eta,omitempty"`
	Transfers    int64          `json:"transfers,omitempty"`
	Checks       int64          `json:"checks,omitempty"`
	ElapsedTime  float64        `json:"elapsedTime,omitempty"`
	Transferring []FileTransfer `json:"transferring,omitempty"`
}

// FileTransfer describes one in-flight transfer reported by the engine.
type FileTransfer struct {
	Name       string  `json:"name"`
	Size       int64   `json:"size,omitempty"`
	Bytes      int64   `json:"bytes,omitempty"`
	Percentage int     `json:"percentage,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
}

// Throttle is the pair of knobs the governor controls.
type Throttle struct {
	Transfers int     `json:"transfers"`
	TPSLimit  float64 `json:"tps_limit"`
}

// Status is the live view the control loop publishes after every tick.
type Status struct {
	Phase         Phase     `json:"phase"`
	Throttle      Throttle  `json:"throttle"`
	StableStreak  int       `json:"stable_streak"`
	StallStreak   int       `json:"stall_streak"`
	Ticks         int64     `json:"ticks"`
	Backoffs      int64     `json:"backoffs"`
	Growths       int64     `json:"growths"`
	Stalls        int64     `json:"stalls"`
	ApplyFailures int64     `json:"apply_failures"`
	FetchFailures int64     `json:"fetch_failures"`
	Bytes         int64     `json:"bytes"`
	Speed         float64   `json:"speed"`
	LastReason    string    `json:"last_reason,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}
