package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// HistoryStore persists posting attempts in the post_history table.
type HistoryStore struct {
	conn Conn
}

// NewHistoryStore constructs a HistoryStore over an existing connection.
func NewHistoryStore(conn Conn) (*HistoryStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	return &HistoryStore{conn: conn}, nil
}

// RecordPost inserts one posting attempt.
func (s *HistoryStore) RecordPost(ctx context.Context, rec offer.PostRecord) error {
	query := `
INSERT INTO post_history (id, offer_id, channel, succeeded, error_text, external_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.conn.Exec(ctx, query,
		rec.ID, rec.OfferID, string(rec.Channel), rec.Succeeded, rec.ErrorText, rec.ExternalID, rec.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("insert post record: %w", err)
	}
	return nil
}

// ListByOffer returns all attempts for an offer, oldest first.
func (s *HistoryStore) ListByOffer(ctx context.Context, offerID string) ([]offer.PostRecord, error) {
	rows, err := s.conn.Query(ctx, `
SELECT id, offer_id, channel, succeeded, error_text, external_id, posted_at
FROM post_history WHERE offer_id = $1 ORDER BY posted_at`, offerID)
	if err != nil {
		return nil, fmt.Errorf("list post history: %w", err)
	}
	defer rows.Close()

	var out []offer.PostRecord
	for rows.Next() {
		var (
			rec     offer.PostRecord
			channel string
		)
		if err := rows.Scan(&rec.ID, &rec.OfferID, &channel, &rec.Succeeded, &rec.ErrorText, &rec.ExternalID, &rec.PostedAt); err != nil {
			return nil, fmt.Errorf("scan post record: %w", err)
		}
		rec.Channel = offer.ChannelName(channel)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list post history rows: %w", err)
	}
	return out, nil
}

// SecurityLog persists security events in the security_events table.
type SecurityLog struct {
	conn Conn
}

// NewSecurityLog constructs a SecurityLog over an existing connection.
func NewSecurityLog(conn Conn) (*SecurityLog, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	return &SecurityLog{conn: conn}, nil
}

// Record inserts a security event.
func (s *SecurityLog) Record(ctx context.Context, ev offer.SecurityEvent) error {
	query := `
INSERT INTO security_events (id, kind, client_ip, path, detail, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.conn.Exec(ctx, query, ev.ID, ev.Kind, ev.ClientIP, ev.Path, ev.Detail, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// TemplateStore persists message templates in the message_templates table.
type TemplateStore struct {
	conn Conn
}

// NewTemplateStore constructs a TemplateStore over an existing connection.
func NewTemplateStore(conn Conn) (*TemplateStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	return &TemplateStore{conn: conn}, nil
}

// Save upserts a template by ID.
func (s *TemplateStore) Save(ctx context.Context, tpl offer.MessageTemplate) error {
	if tpl.Default {
		if _, err := s.conn.Exec(ctx, `UPDATE message_templates SET is_default = FALSE WHERE is_default`); err != nil {
			return fmt.Errorf("clear default template: %w", err)
		}
	}
	query := `
INSERT INTO message_templates (id, name, body, is_default, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET name = $2, body = $3, is_default = $4, updated_at = $6`
	_, err := s.conn.Exec(ctx, query, tpl.ID, tpl.Name, tpl.Body, tpl.Default, tpl.CreatedAt, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// GetByID fetches a template by ID.
func (s *TemplateStore) GetByID(ctx context.Context, id string) (offer.MessageTemplate, error) {
	row := s.conn.QueryRow(ctx, `
SELECT id, name, body, is_default, created_at, updated_at
FROM message_templates WHERE id = $1`, id)
	return scanTemplate(row)
}

// GetDefault returns the template flagged as default.
func (s *TemplateStore) GetDefault(ctx context.Context) (offer.MessageTemplate, error) {
	row := s.conn.QueryRow(ctx, `
SELECT id, name, body, is_default, created_at, updated_at
FROM message_templates WHERE is_default LIMIT 1`)
	return scanTemplate(row)
}

// List returns all stored templates.
func (s *TemplateStore) List(ctx context.Context) ([]offer.MessageTemplate, error) {
	rows, err := s.conn.Query(ctx, `
SELECT id, name, body, is_default, created_at, updated_at
FROM message_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []offer.MessageTemplate
	for rows.Next() {
		var tpl offer.MessageTemplate
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Body, &tpl.Default, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates rows: %w", err)
	}
	return out, nil
}

// Delete removes a template.
func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM message_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrNotFound
	}
	return nil
}

func scanTemplate(row pgx.Row) (offer.MessageTemplate, error) {
	var tpl offer.MessageTemplate
	err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Body, &tpl.Default, &tpl.CreatedAt, &tpl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return offer.MessageTemplate{}, offer.ErrNotFound
	}
	if err != nil {
		return offer.MessageTemplate{}, fmt.Errorf("scan template: %w", err)
	}
	return tpl, nil
}
