package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// ActivityStore implements domain.ActivityJournal using PostgreSQL. It keeps
// the full history that the bounded in-memory feed drops.
type ActivityStore struct {
	pool *pgxpool.Pool
}

var _ domain.ActivityJournal = (*ActivityStore)(nil)

// NewActivityStore creates a new ActivityStore backed by the given pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// InsertActivity journals one feed entry. Duplicate ids are skipped.
func (s *ActivityStore) InsertActivity(ctx context.Context, a domain.Activity) error {
	const query = `
		INSERT INTO activities (
			id, seq, type, asset_key, collection, actor, counterparty,
			listing_id, offer_id, sale_id, amount, currency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		a.ID, int64(a.Seq), string(a.Type), a.AssetKey, a.Collection, a.Actor, a.Counterparty,
		a.ListingID, a.OfferID, a.SaleID, int64(a.Amount), a.Currency, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert activity %s: %w", a.ID, err)
	}
	return nil
}

// ListActivitiesBefore returns entries created before the cutoff in
// insertion order.
func (s *ActivityStore) ListActivitiesBefore(ctx context.Context, before time.Time) ([]domain.Activity, error) {
	const query = `
		SELECT id, seq, type, asset_key, collection, actor, counterparty,
		       listing_id, offer_id, sale_id, amount, currency, created_at
		FROM activities
		WHERE created_at < $1
		ORDER BY created_at, seq`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list activities before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var (
			a      domain.Activity
			seq    int64
			amount int64
		)
		if err := rows.Scan(
			&a.ID, &seq, &a.Type, &a.AssetKey, &a.Collection, &a.Actor, &a.Counterparty,
			&a.ListingID, &a.OfferID, &a.SaleID, &amount, &a.Currency, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan activity: %w", err)
		}
		a.Seq = uint64(seq)
		a.Amount = domain.Amount(amount)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list activities rows: %w", err)
	}
	return out, nil
}
