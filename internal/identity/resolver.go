package identity

import (
	"context"
	"log/slog"
)

// Resolver applies Decide against a Store.
type Resolver struct {
	store    Store
	ceremony *Ceremony
	fresh    func() string
}

type ResolverOption func(*Resolver)

// WithCeremony enables the credential step. Without it the step reports
// unsupported and resolution falls through to a random id.
func WithCeremony(c *Ceremony) ResolverOption {
	return func(r *Resolver) { r.ceremony = c }
}

// WithIDGenerator replaces the random id source.
func WithIDGenerator(fresh func() string) ResolverOption {
	return func(r *Resolver) { r.fresh = fresh }
}

func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, fresh: NewRandomID}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the device identity, persisting it to any slot that did
// not already hold it. It always returns a non-empty id.
func (r *Resolver) Resolve(ctx context.Context) DeviceIdentity {
	cookie := r.read(ctx, SlotCookie)
	local := r.read(ctx, SlotLocal)

	d := Decide(cookie, local, func() CeremonyResult {
		res := r.ceremony.Run(ctx)
		if err := res.Err(); err != nil {
			slog.DebugContext(ctx, "Credential ceremony failed, falling back", "error", err)
		}
		return res
	}, r.fresh)

	if d.Identity.ID == "" {
		d = Decide("", "", CeremonyUnsupported, NewRandomID)
	}

	for _, w := range d.Writes {
		if err := r.store.backend(w.Slot).Write(ctx, w.Value); err != nil {
			slog.WarnContext(ctx, "Failed to persist device id", "slot", w.Slot, "error", err)
		}
	}

	slog.DebugContext(ctx, "Device identity resolved", "method", d.Identity.Method)
	return d.Identity
}

func (r *Resolver) read(ctx context.Context, slot Slot) string {
	v, ok, err := r.store.backend(slot).Read(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read device id", "slot", slot, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}
