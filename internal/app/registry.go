package app

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/mengy007/evv-poc/internal/adapter/metrics"
	"github.com/mengy007/evv-poc/internal/domain"
	apperrors "github.com/mengy007/evv-poc/internal/platform/errors"
)

const maxIdentifierLen = 512

// Registry records which device identities have checked in, and under
// which agent.
type Registry struct {
	devices domain.DeviceRepository
	clock   clockwork.Clock
	metrics *metrics.LedgerMetrics
}

func NewRegistry(devices domain.DeviceRepository, clock clockwork.Clock, m *metrics.LedgerMetrics) *Registry {
	return &Registry{devices: devices, clock: clock, metrics: m}
}

// Register upserts the device. Both ids are trimmed; an empty agent id is
// stored as absent. Registering the same device again only bumps last-seen.
func (r *Registry) Register(ctx context.Context, deviceID, agentID string) (*domain.Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	agentID = strings.TrimSpace(agentID)

	if deviceID == "" {
		return nil, apperrors.ValidationError("device id not provided").WithField("field", "deviceId")
	}
	if len(deviceID) > maxIdentifierLen {
		return nil, apperrors.ValidationError("device id too long").WithField("field", "deviceId")
	}
	if len(agentID) > maxIdentifierLen {
		return nil, apperrors.ValidationError("agent id too long").WithField("field", "agentId")
	}

	var agent *string
	if agentID != "" {
		agent = &agentID
	}

	d, err := r.devices.Upsert(ctx, deviceID, agent, r.clock.Now().UTC())
	if err != nil {
		return nil, storageError("failed to register device", err)
	}

	r.metrics.Registrations.WithLabelValues(strconv.FormatBool(agent != nil)).Inc()
	slog.InfoContext(ctx, "Device registered", "device_id", d.ID, "agent_id", agentID, "registrations", d.Registrations)
	return d, nil
}
