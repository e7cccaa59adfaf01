package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mengy007/evv-poc/internal/domain"
)

const deviceColumns = `device_id, agent_id, registrations, first_seen_at, last_seen_at`

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func scanDevice(row pgx.Row) (*domain.Device, error) {
	var d domain.Device
	if err := row.Scan(&d.ID, &d.AgentID, &d.Registrations, &d.FirstSeenAt, &d.LastSeenAt); err != nil {
		return nil, err
	}
	d.FirstSeenAt = d.FirstSeenAt.UTC()
	d.LastSeenAt = d.LastSeenAt.UTC()
	return &d, nil
}

// Upsert keeps the previous agent id when the new registration has none.
func (r *DeviceRepo) Upsert(ctx context.Context, deviceID string, agentID *string, at time.Time) (*domain.Device, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO devices (device_id, agent_id, registrations, first_seen_at, last_seen_at)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			agent_id      = COALESCE(EXCLUDED.agent_id, devices.agent_id),
			registrations = devices.registrations + 1,
			last_seen_at  = EXCLUDED.last_seen_at
		RETURNING `+deviceColumns, deviceID, agentID, at)

	d, err := scanDevice(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device: %w", err)
	}
	return d, nil
}

func (r *DeviceRepo) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)

	d, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}
