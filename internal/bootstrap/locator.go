package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/mengy007/evv-poc/internal/domain"
)

const locateTimeout = 10 * time.Second

var ErrLocationUnavailable = errors.New("location unavailable")

type LocateOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
}

// Locator acquires a single position fix.
type Locator interface {
	Locate(ctx context.Context, opts LocateOptions) (domain.Location, error)
}

// StaticLocator always reports the same position. A zero value, or one
// holding an out-of-range position, reports ErrLocationUnavailable.
type StaticLocator struct {
	Position *domain.Location
}

func (l StaticLocator) Locate(ctx context.Context, _ LocateOptions) (domain.Location, error) {
	if err := ctx.Err(); err != nil {
		return domain.Location{}, err
	}
	if l.Position == nil || !l.Position.Valid() {
		return domain.Location{}, ErrLocationUnavailable
	}
	return *l.Position, nil
}
