// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Conn is the subset of pgxpool.Pool the stores need; pgxmock satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// OfferStore persists offers in the offers table.
type OfferStore struct {
	conn Conn
}

// NewOfferStore constructs an OfferStore over an existing connection.
func NewOfferStore(conn Conn) (*OfferStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	return &OfferStore{conn: conn}, nil
}

// Close releases the underlying pool.
func (s *OfferStore) Close() {
	if s == nil || s.conn == nil {
		return
	}
	s.conn.Close()
}

const offerColumns = `id, title, source, product_url, affiliate_url, image_url, category,
current_price, original_price, discount_pct, currency, active, posted, posted_at,
collected_at, updated_at`

// Insert stores a new offer; a product_url unique violation maps to ErrDuplicate.
func (s *OfferStore) Insert(ctx context.Context, o offer.Offer) error {
	query := `
INSERT INTO offers (` + offerColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := s.conn.Exec(ctx, query,
		o.ID, o.Title, string(o.Source), o.ProductURL, o.AffiliateURL, o.ImageURL, o.Category,
		o.CurrentPrice, o.OriginalPrice, o.DiscountPct, o.Currency, o.Active, o.Posted, o.PostedAt,
		o.CollectedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return offer.ErrDuplicate
		}
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// Update replaces a stored offer by ID.
func (s *OfferStore) Update(ctx context.Context, o offer.Offer) error {
	query := `
UPDATE offers SET
	title = $2, source = $3, product_url = $4, affiliate_url = $5, image_url = $6,
	category = $7, current_price = $8, original_price = $9, discount_pct = $10,
	currency = $11, active = $12, posted = $13, posted_at = $14, updated_at = $15
WHERE id = $1`
	tag, err := s.conn.Exec(ctx, query,
		o.ID, o.Title, string(o.Source), o.ProductURL, o.AffiliateURL, o.ImageURL,
		o.Category, o.CurrentPrice, o.OriginalPrice, o.DiscountPct,
		o.Currency, o.Active, o.Posted, o.PostedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrNotFound
	}
	return nil
}

// GetByID fetches an offer by ID.
func (s *OfferStore) GetByID(ctx context.Context, id string) (offer.Offer, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	return scanOffer(row)
}

// GetByProductURL answers the dedup membership query.
func (s *OfferStore) GetByProductURL(ctx context.Context, url string) (offer.Offer, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE product_url = $1`, url)
	return scanOffer(row)
}

// List returns offers matching the filter, newest first.
func (s *OfferStore) List(ctx context.Context, filter offer.ListFilter) ([]offer.Offer, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		clauses = append(clauses, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.OnlyActive {
		clauses = append(clauses, "active")
	}
	if filter.Unposted {
		clauses = append(clauses, "NOT posted")
	}
	query := `SELECT ` + offerColumns + ` FROM offers`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY collected_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var out []offer.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list offers rows: %w", err)
	}
	return out, nil
}

// MarkPosted flips the posted flag; posting twice maps to ErrAlreadyPosted.
func (s *OfferStore) MarkPosted(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE offers SET posted = TRUE, posted_at = $2, updated_at = $2 WHERE id = $1 AND NOT posted`
	tag, err := s.conn.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return offer.ErrAlreadyPosted
	}
	return nil
}

// SetActive toggles the active flag.
func (s *OfferStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.conn.Exec(ctx, `UPDATE offers SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrNotFound
	}
	return nil
}

// Delete removes an offer.
func (s *OfferStore) Delete(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM offers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrNotFound
	}
	return nil
}

func scanOffer(row pgx.Row) (offer.Offer, error) {
	var (
		o      offer.Offer
		source string
	)
	err := row.Scan(
		&o.ID, &o.Title, &source, &o.ProductURL, &o.AffiliateURL, &o.ImageURL, &o.Category,
		&o.CurrentPrice, &o.OriginalPrice, &o.DiscountPct, &o.Currency, &o.Active, &o.Posted, &o.PostedAt,
		&o.CollectedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return offer.Offer{}, offer.ErrNotFound
	}
	if err != nil {
		return offer.Offer{}, fmt.Errorf("scan offer: %w", err)
	}
	o.Source = offer.Source(source)
	return o, nil
}
