package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// AuditStore is the append-only audit_log table. Entries carrying a
// position_id detail are indexed by it so a position's trail can be pulled
// without scanning the JSONB.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: encode audit %s: %w", event, err)
	}
	var positionID *string
	if id, ok := detail["position_id"].(string); ok && id != "" {
		positionID = &id
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, position_id, detail) VALUES ($1, $2, $3)`,
		event, positionID, raw,
	); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, "", opts)
}

// ListForPosition returns the trail of one position, newest first.
func (s *AuditStore) ListForPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, positionID, opts)
}

func (s *AuditStore) list(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if positionID != "" {
		where = append(where, "position_id = "+arg(positionID))
	}
	if opts.Since != nil {
		where = append(where, "created_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at <= "+arg(*opts.Until))
	}

	var q strings.Builder
	q.WriteString(`SELECT id, event, detail, created_at FROM audit_log`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY id DESC")
	if opts.Limit > 0 {
		q.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.WriteString(" OFFSET " + arg(opts.Offset))
	}

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("decode detail of audit %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
