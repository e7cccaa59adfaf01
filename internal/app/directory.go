package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mengy007/evv-poc/internal/domain"
	apperrors "github.com/mengy007/evv-poc/internal/platform/errors"
	"golang.org/x/sync/singleflight"
)

// lookupTimeout bounds a shared hash lookup once it is detached from its callers.
const lookupTimeout = 5 * time.Second

// Directory gives access to the users and patients books.
type Directory struct {
	Users    *Book
	Patients *Book
}

// NewDirectory wires both books. cache may be nil, in which case lookups
// go straight to the repositories.
func NewDirectory(users, patients domain.PartyRepository, cache domain.PartyCache) *Directory {
	return &Directory{
		Users:    &Book{kind: "user", repo: users, cache: cache, notFound: domain.ErrUserNotFound, generateHash: true},
		Patients: &Book{kind: "patient", repo: patients, cache: cache, notFound: domain.ErrPatientNotFound},
	}
}

// Book is the CRUD surface of one party table.
type Book struct {
	kind         string
	repo         domain.PartyRepository
	cache        domain.PartyCache
	notFound     error
	generateHash bool
	lookups      singleflight.Group
}

func (b *Book) Kind() string { return b.kind }

// ByHash returns the record with an exactly matching hash, or nil.
// Concurrent misses for the same hash share one load.
func (b *Book) ByHash(ctx context.Context, hash string) (*domain.Party, error) {
	if hash == "" {
		return nil, apperrors.ValidationError("Missing required query param: hash").WithField("field", "hash")
	}

	// The shared load is detached from any one caller. Each caller still
	// stops waiting when its own ctx ends.
	ch := b.lookups.DoChan(hash, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		if b.cache == nil {
			return b.loadByHash(loadCtx, hash)
		}
		return b.cache.Lookup(loadCtx, b.kind, hash, func(ctx context.Context) (*domain.Party, error) {
			return b.loadByHash(ctx, hash)
		})
	})

	select {
	case <-ctx.Done():
		return nil, storageError(fmt.Sprintf("failed to look up %s", b.kind), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, storageError(fmt.Sprintf("failed to look up %s", b.kind), res.Err)
		}
		p, _ := res.Val.(*domain.Party)
		return p, nil
	}
}

func (b *Book) loadByHash(ctx context.Context, hash string) (*domain.Party, error) {
	p, err := b.repo.GetByHash(ctx, hash)
	if errors.Is(err, b.notFound) {
		return nil, nil
	}
	return p, err
}

// List pages through the table, newest first. Limit defaults to 50 and is
// capped at 200.
func (b *Book) List(ctx context.Context, page domain.Page) ([]domain.Party, error) {
	if page.Limit <= 0 {
		page.Limit = domain.DefaultPageLimit
	}
	if page.Limit > domain.MaxPageLimit {
		page.Limit = domain.MaxPageLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	parties, err := b.repo.List(ctx, page)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to list %ss", b.kind), err)
	}
	return parties, nil
}

func (b *Book) Get(ctx context.Context, id int64) (*domain.Party, error) {
	if err := positiveID("id", id); err != nil {
		return nil, err
	}
	p, err := b.repo.GetByID(ctx, id)
	if err != nil {
		return nil, b.mapError("fetch", err)
	}
	return p, nil
}

// Create inserts a record. Blank strings become absent. For users a
// missing hash is replaced by 16 random bytes in hex.
func (b *Book) Create(ctx context.Context, hash, name *string) (*domain.Party, error) {
	hash, name = normalize(hash), normalize(name)
	if err := validateFields(hash, name); err != nil {
		return nil, err
	}

	if hash == nil && b.generateHash {
		generated, err := randomHash()
		if err != nil {
			return nil, apperrors.InternalError("failed to generate hash", err)
		}
		hash = &generated
	}

	p, err := b.repo.Create(ctx, hash, name)
	if err != nil {
		return nil, b.mapError("create", err)
	}
	slog.InfoContext(ctx, "Directory record created", "kind", b.kind, "id", p.ID)
	return p, nil
}

// Update applies a partial change and invalidates cached lookups for both
// the old and the new hash.
func (b *Book) Update(ctx context.Context, id int64, patch domain.PartyPatch) (*domain.Party, error) {
	if err := positiveID("id", id); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, apperrors.ValidationError("No fields to update")
	}
	if err := validateFields(patch.Hash.Value, patch.Name.Value); err != nil {
		return nil, err
	}

	before, err := b.repo.GetByID(ctx, id)
	if err != nil {
		return nil, b.mapError("update", err)
	}

	p, err := b.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, b.mapError("update", err)
	}

	b.invalidate(ctx, before.Hash, p.Hash)
	return p, nil
}

func (b *Book) Delete(ctx context.Context, id int64) error {
	if err := positiveID("id", id); err != nil {
		return err
	}

	before, err := b.repo.GetByID(ctx, id)
	if err != nil {
		return b.mapError("delete", err)
	}
	if err := b.repo.Delete(ctx, id); err != nil {
		return b.mapError("delete", err)
	}

	b.invalidate(ctx, before.Hash)
	slog.InfoContext(ctx, "Directory record deleted", "kind", b.kind, "id", id)
	return nil
}

func (b *Book) invalidate(ctx context.Context, hashes ...*string) {
	if b.cache == nil {
		return
	}
	var keys []string
	for _, h := range hashes {
		if h != nil {
			keys = append(keys, *h)
		}
	}
	if err := b.cache.Invalidate(ctx, b.kind, keys...); err != nil {
		slog.WarnContext(ctx, "Failed to invalidate lookup cache", "kind", b.kind, "error", err)
	}
}

func (b *Book) mapError(op string, err error) error {
	switch {
	case errors.Is(err, b.notFound):
		return apperrors.NotFoundError(b.kind + " not found")
	case errors.Is(err, domain.ErrHashTaken):
		return apperrors.ConflictError("hash already in use").WithField("field", "hash")
	case errors.Is(err, domain.ErrNothingToUpdate):
		return apperrors.ValidationError("No fields to update")
	default:
		return storageError(fmt.Sprintf("failed to %s %s", op, b.kind), err)
	}
}

func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func validateFields(hash, name *string) error {
	if hash != nil && len(*hash) > domain.MaxPartyFieldLen {
		return apperrors.ValidationError("hash must be at most 128 characters").WithField("field", "hash")
	}
	if name != nil && len(*name) > domain.MaxPartyFieldLen {
		return apperrors.ValidationError("name must be at most 128 characters").WithField("field", "name")
	}
	return nil
}

func randomHash() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
