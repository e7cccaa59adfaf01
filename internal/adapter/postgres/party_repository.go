package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mengy007/evv-poc/internal/domain"
)

// partyColumns must match the Scan order in scanParty.
const partyColumns = `id, hash, name, created_at`

// PartyRepo serves the users and patients tables, which share one shape.
type PartyRepo struct {
	pool     *pgxpool.Pool
	table    string
	notFound error
}

func NewUserRepo(pool *pgxpool.Pool) *PartyRepo {
	return &PartyRepo{pool: pool, table: "users", notFound: domain.ErrUserNotFound}
}

func NewPatientRepo(pool *pgxpool.Pool) *PartyRepo {
	return &PartyRepo{pool: pool, table: "patients", notFound: domain.ErrPatientNotFound}
}

func scanParty(row pgx.Row) (*domain.Party, error) {
	var p domain.Party
	if err := row.Scan(&p.ID, &p.Hash, &p.Name, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (r *PartyRepo) one(row pgx.Row, op string) (*domain.Party, error) {
	p, err := scanParty(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, r.notFound
	case isUniqueViolation(err):
		return nil, domain.ErrHashTaken
	case err != nil:
		return nil, fmt.Errorf("failed to %s %s: %w", op, r.table, err)
	}
	return p, nil
}

func (r *PartyRepo) GetByID(ctx context.Context, id int64) (*domain.Party, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+partyColumns+` FROM `+r.table+` WHERE id = $1`, id)
	return r.one(row, "get")
}

func (r *PartyRepo) GetByHash(ctx context.Context, hash string) (*domain.Party, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+partyColumns+` FROM `+r.table+` WHERE hash = $1 LIMIT 1`, hash)
	return r.one(row, "look up")
}

func (r *PartyRepo) List(ctx context.Context, page domain.Page) ([]domain.Party, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+partyColumns+` FROM `+r.table+` ORDER BY id DESC LIMIT $1 OFFSET $2`,
		page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.table, err)
	}
	defer rows.Close()

	parties := make([]domain.Party, 0)
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", r.table, err)
		}
		parties = append(parties, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", r.table, err)
	}
	return parties, nil
}

func (r *PartyRepo) Create(ctx context.Context, hash, name *string) (*domain.Party, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO `+r.table+` (hash, name) VALUES ($1, $2) RETURNING `+partyColumns,
		hash, name)
	return r.one(row, "create")
}

func (r *PartyRepo) Update(ctx context.Context, id int64, patch domain.PartyPatch) (*domain.Party, error) {
	if patch.Empty() {
		return nil, domain.ErrNothingToUpdate
	}

	args := []any{id}
	var sets []string
	if patch.Hash.Set {
		args = append(args, patch.Hash.Value)
		sets = append(sets, "hash = $"+strconv.Itoa(len(args)))
	}
	if patch.Name.Set {
		args = append(args, patch.Name.Value)
		sets = append(sets, "name = $"+strconv.Itoa(len(args)))
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE `+r.table+` SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+partyColumns,
		args...)
	return r.one(row, "update")
}

func (r *PartyRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+r.table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.table, err)
	}
	if tag.RowsAffected() == 0 {
		return r.notFound
	}
	return nil
}
