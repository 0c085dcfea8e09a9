package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// ClosedPositionSource lists CLOSED positions for archival.
type ClosedPositionSource interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// SettledReceiptSource lists SETTLED journal entries for archival.
type SettledReceiptSource interface {
	SettledBefore(ctx context.Context, before time.Time) ([]domain.JournalEntry, error)
}

// Archiver implements domain.Archiver by writing JSONL files to the bucket.
// Positions are partitioned by the UTC day they closed; a day is written once,
// after it has fully elapsed before the cutoff. Receipts are written as one
// file per archival pass, stamped with the cutoff.
//
// Nothing is deleted from the primary store here.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	positions ClosedPositionSource
	receipts  SettledReceiptSource
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver. reader and audit may be nil; without a
// reader existing day files are overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	positions ClosedPositionSource,
	receipts SettledReceiptSource,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		positions: positions,
		receipts:  receipts,
		audit:     audit,
	}
}

// ArchivePositions uploads closed positions grouped by close day. It returns
// the number of positions written in this call.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	if a.positions == nil {
		return 0, nil
	}
	before = before.UTC()
	closed, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}

	byDay := make(map[time.Time][]domain.Position)
	for _, p := range closed {
		if p.ClosedAt == nil {
			continue
		}
		day := p.ClosedAt.UTC().Truncate(24 * time.Hour)
		if day.Add(24 * time.Hour).After(before) {
			continue
		}
		byDay[day] = append(byDay[day], p)
	}

	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var total int64
	for _, day := range days {
		path := positionsPath(day)
		if a.reader != nil {
			exists, err := a.reader.Exists(ctx, path)
			if err != nil {
				return total, fmt.Errorf("s3blob: archive positions check %s: %w", path, err)
			}
			if exists {
				continue
			}
		}

		batch := byDay[day]
		sort.Slice(batch, func(i, j int) bool { return batch[i].ClosedAt.Before(*batch[j].ClosedAt) })
		if err := upload(ctx, a.writer, path, batch); err != nil {
			return total, fmt.Errorf("s3blob: archive positions: %w", err)
		}
		total += int64(len(batch))
		a.log(ctx, "archive.positions", map[string]any{
			"path":  path,
			"count": len(batch),
			"day":   day.Format(time.DateOnly),
		})
	}
	return total, nil
}

// ArchiveReceipts uploads settled journal entries older than before.
func (a *Archiver) ArchiveReceipts(ctx context.Context, before time.Time) (int64, error) {
	if a.receipts == nil {
		return 0, nil
	}
	before = before.UTC()
	entries, err := a.receipts.SettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	path := receiptsPath(before)
	if err := upload(ctx, a.writer, path, entries); err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts: %w", err)
	}
	count := int64(len(entries))
	a.log(ctx, "archive.receipts", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
	return count, nil
}

func upload[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := w.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// log records the archival; the file is already durable, so a failed audit
// write does not fail the call.
func (a *Archiver) log(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	_ = a.audit.Log(ctx, event, detail)
}

//	archive/positions/2026/03/14.jsonl
func positionsPath(day time.Time) string {
	return "archive/positions/" + day.Format("2006/01/02") + ".jsonl"
}

//	archive/receipts/20260314T000000Z.jsonl
func receiptsPath(before time.Time) string {
	return "archive/receipts/" + before.Format("20060102T150405Z") + ".jsonl"
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
