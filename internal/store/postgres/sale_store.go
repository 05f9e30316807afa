package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// SaleStore implements domain.SaleJournal using PostgreSQL.
type SaleStore struct {
	pool *pgxpool.Pool
}

var _ domain.SaleJournal = (*SaleStore)(nil)

// NewSaleStore creates a new SaleStore backed by the given connection pool.
func NewSaleStore(pool *pgxpool.Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

const saleSelectCols = `id, source, COALESCE(listing_id, ''), COALESCE(offer_id, ''),
	collection, token_id, asset_name, seller, buyer,
	sale_price, currency, platform_fee, royalty_fee, seller_proceeds,
	platform_fee_bps, royalty_bps, created_at`

func scanSale(row pgx.Row) (domain.Sale, error) {
	var (
		s                                  domain.Sale
		price, platform, royalty, proceeds int64
	)
	err := row.Scan(
		&s.ID, &s.Source, &s.ListingID, &s.OfferID,
		&s.Asset.Collection, &s.Asset.TokenID, &s.Asset.Name, &s.Seller, &s.Buyer,
		&price, &s.Currency, &platform, &royalty, &proceeds,
		&s.PlatformFeeBps, &s.RoyaltyBps, &s.CreatedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	s.SalePrice = domain.Amount(price)
	s.PlatformFee = domain.Amount(platform)
	s.RoyaltyFee = domain.Amount(royalty)
	s.SellerProceeds = domain.Amount(proceeds)
	return s, nil
}

func scanSaleRows(rows pgx.Rows) ([]domain.Sale, error) {
	defer rows.Close()
	var sales []domain.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertSale journals a committed sale. Replays of the same sale id are
// ignored so the relay can retry safely.
func (s *SaleStore) InsertSale(ctx context.Context, sale domain.Sale) error {
	const query = `
		INSERT INTO sales (
			id, source, listing_id, offer_id,
			collection, token_id, asset_name, seller, buyer,
			sale_price, currency, platform_fee, royalty_fee, seller_proceeds,
			platform_fee_bps, royalty_bps, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		sale.ID, string(sale.Source), nullable(sale.ListingID), nullable(sale.OfferID),
		sale.Asset.Collection, sale.Asset.TokenID, sale.Asset.Name, sale.Seller, sale.Buyer,
		int64(sale.SalePrice), sale.Currency, int64(sale.PlatformFee), int64(sale.RoyaltyFee), int64(sale.SellerProceeds),
		sale.PlatformFeeBps, sale.RoyaltyBps, sale.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: insert sale %s: %w", sale.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert sale %s: %w", sale.ID, err)
	}
	return nil
}

// AttachSettlement stores the transfer reference of a sale.
func (s *SaleStore) AttachSettlement(ctx context.Context, st domain.Settlement) error {
	const query = `
		INSERT INTO sale_settlements (sale_id, tx_ref, settled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (sale_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, st.SaleID, st.TxRef, st.SettledAt)
	if err != nil {
		return fmt.Errorf("postgres: attach settlement %s: %w", st.SaleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: attach settlement %s: %w", st.SaleID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetSale returns a single sale by id.
func (s *SaleStore) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+saleSelectCols+` FROM sales WHERE id = $1`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Sale{}, fmt.Errorf("postgres: get sale %s: %w", id, domain.ErrNotFound)
		}
		return domain.Sale{}, fmt.Errorf("postgres: get sale %s: %w", id, err)
	}
	return sale, nil
}

// ListSales returns sales newest first with pagination and optional time
// filtering.
func (s *SaleStore) ListSales(ctx context.Context, opts domain.ListOpts) ([]domain.Sale, error) {
	query, args := windowed(`SELECT `+saleSelectCols+` FROM sales WHERE 1=1`, nil,
		"created_at", "created_at DESC, id", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales: %w", err)
	}
	sales, err := scanSaleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sales: %w", err)
	}
	return sales, nil
}

// ListSalesBefore returns every sale created before the cutoff, oldest first.
func (s *SaleStore) ListSalesBefore(ctx context.Context, before time.Time) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+saleSelectCols+` FROM sales WHERE created_at < $1 ORDER BY created_at, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales before %s: %w", before.Format(time.RFC3339), err)
	}
	sales, err := scanSaleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sales: %w", err)
	}
	return sales, nil
}
