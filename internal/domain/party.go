package domain

import (
	"context"
	"time"
)

// MaxPartyFieldLen bounds hash and name on users and patients.
const MaxPartyFieldLen = 128

// Party is a row of either the users or the patients table. Both share the
// same shape: an id plus an optional lookup hash and display name.
type Party struct {
	ID        int64     `json:"id"`
	Hash      *string   `json:"hash"`
	Name      *string   `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type (
	User    = Party
	Patient = Party
)

// FieldUpdate is one column of a partial update. Set=false leaves the column
// alone; Set=true with a nil Value clears it.
type FieldUpdate struct {
	Set   bool
	Value *string
}

func SetTo(v *string) FieldUpdate {
	return FieldUpdate{Set: true, Value: v}
}

type PartyPatch struct {
	Hash FieldUpdate
	Name FieldUpdate
}

func (p PartyPatch) Empty() bool {
	return !p.Hash.Set && !p.Name.Set
}

// Page is an offset pagination window.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// PartyRepository is implemented once per table. Lookups that miss return
// the table's not-found sentinel.
type PartyRepository interface {
	GetByID(ctx context.Context, id int64) (*Party, error)
	GetByHash(ctx context.Context, hash string) (*Party, error)
	List(ctx context.Context, page Page) ([]Party, error)
	Create(ctx context.Context, hash, name *string) (*Party, error)
	Update(ctx context.Context, id int64, patch PartyPatch) (*Party, error)
	Delete(ctx context.Context, id int64) error
}

// PartyCache is a read-through cache for hash lookups. A nil result with a
// nil error means the hash does not exist.
type PartyCache interface {
	Lookup(ctx context.Context, kind, hash string, load func(ctx context.Context) (*Party, error)) (*Party, error)
	Invalidate(ctx context.Context, kind string, hashes ...string) error
}
