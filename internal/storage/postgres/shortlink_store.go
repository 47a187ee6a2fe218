package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// ShortLinkStore persists short links in the short_links table.
type ShortLinkStore struct {
	conn Conn
}

// NewShortLinkStore constructs a ShortLinkStore over an existing connection.
func NewShortLinkStore(conn Conn) (*ShortLinkStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	return &ShortLinkStore{conn: conn}, nil
}

// Save inserts a short link; a code collision maps to ErrDuplicate.
func (s *ShortLinkStore) Save(ctx context.Context, link offer.ShortLink) error {
	query := `
INSERT INTO short_links (code, target_url, url_hash, offer_id, clicks, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.conn.Exec(ctx, query,
		link.Code, link.TargetURL, link.URLHash, nullableString(link.OfferID), link.Clicks, link.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return offer.ErrDuplicate
		}
		return fmt.Errorf("insert short link: %w", err)
	}
	return nil
}

// GetByCode fetches a short link by code.
func (s *ShortLinkStore) GetByCode(ctx context.Context, code string) (offer.ShortLink, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT code, target_url, url_hash, COALESCE(offer_id, ''), clicks, created_at
FROM short_links WHERE code = $1`, code)
	return scanShortLink(row)
}

// GetByHash fetches a short link by target URL hash.
func (s *ShortLinkStore) GetByHash(ctx context.Context, hash string) (offer.ShortLink, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT code, target_url, url_hash, COALESCE(offer_id, ''), clicks, created_at
FROM short_links WHERE url_hash = $1`, hash)
	return scanShortLink(row)
}

// IncrementClicks bumps the click counter for a code.
func (s *ShortLinkStore) IncrementClicks(ctx context.Context, code string) error {
	tag, err := s.conn.Exec(ctx, `UPDATE short_links SET clicks = clicks + 1 WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrNotFound
	}
	return nil
}

func scanShortLink(row pgx.Row) (offer.ShortLink, error) {
	var link offer.ShortLink
	err := row.Scan(&link.Code, &link.TargetURL, &link.URLHash, &link.OfferID, &link.Clicks, &link.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return offer.ShortLink{}, offer.ErrNotFound
	}
	if err != nil {
		return offer.ShortLink{}, fmt.Errorf("scan short link: %w", err)
	}
	return link, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
