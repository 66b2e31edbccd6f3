package types

import (
	"time"

	"github.com/fkcurrie/matrixhost/pkg/matrix"
)

// DriverStatus represents the current state of the plugin driver
type DriverStatus struct {
	Plugin       string    `json:"plugin"`
	Kind         string    `json:"kind"`
	ActivationID string    `json:"activation_id"`
	State        string    `json:"state"`
	Ticks        uint64    `json:"ticks"`
	Rendered     uint64    `json:"rendered"`
	Rejected     uint64    `json:"rejected"`
	Activations  uint64    `json:"activations"`
	LastError    string    `json:"last_error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastUpdated  time.Time `json:"last_updated"`

	Matrix matrix.Configuration `json:"matrix"`
}
