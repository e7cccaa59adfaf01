package domain

import (
	"context"
	"time"
)

// Device is a registered device identity. ID is whatever the device resolved
// (cookie token, local id, credential-derived id or random UUID).
type Device struct {
	ID            string    `json:"deviceId"`
	AgentID       *string   `json:"agentId"`
	Registrations int64     `json:"registrations"`
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}

type DeviceRepository interface {
	// Upsert records a registration. first_seen_at is kept on conflict.
	Upsert(ctx context.Context, deviceID string, agentID *string, at time.Time) (*Device, error)
	Get(ctx context.Context, deviceID string) (*Device, error)
}
