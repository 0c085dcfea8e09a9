package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// AuditStore keeps audit entries in memory, newest last.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty in-memory audit log.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list("", opts), nil
}

func (s *AuditStore) ListForPosition(_ context.Context, positionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(positionID, opts), nil
}

func (s *AuditStore) list(positionID string, opts domain.ListOpts) []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if positionID != "" && e.Detail["position_id"] != positionID {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
