package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the position lifecycle.
//
// Create fails with ErrAlreadyOpen when an OPEN position exists for the same
// (token, chain). UpdatePrices and Close fail with ErrAlreadyClosed on a
// CLOSED position and ErrPositionNotFound on an unknown id.
type PositionStore interface {
	Create(ctx context.Context, params CreatePositionParams) (Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpenByToken(ctx context.Context, tokenAddress string, chainID int64) (Position, error)
	GetByBuyTxRef(ctx context.Context, chainID int64, txRef string) (Position, error)
	ListOpen(ctx context.Context, chainID *int64) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	UpdatePrices(ctx context.Context, id string, upd PriceUpdate) (Position, error)
	Close(ctx context.Context, id string, fields CloseFields) (Position, error)
}

// ReceiptJournal durably records swap receipts ahead of the position write.
type ReceiptJournal interface {
	Append(ctx context.Context, entry JournalEntry) error
	MarkSettled(ctx context.Context, id string) error
	Pending(ctx context.Context) ([]JournalEntry, error)
	SettledBefore(ctx context.Context, before time.Time) ([]JournalEntry, error)
	Remove(ctx context.Context, id string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListForPosition(ctx context.Context, positionID string, opts ListOpts) ([]AuditEntry, error)
}
