package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/store/memory"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: map[string][]byte{}} }

func (b *fakeBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	return nil
}

func (b *fakeBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *fakeBucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func lines(t *testing.T, raw []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		n++
	}
	return n
}

type settledSource []domain.JournalEntry

func (s settledSource) SettledBefore(_ context.Context, before time.Time) ([]domain.JournalEntry, error) {
	var out []domain.JournalEntry
	for _, e := range s {
		if e.SettledAt != nil && e.SettledAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func closePositionAt(t *testing.T, s *memory.PositionStore, token string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	p, err := s.Create(ctx, domain.CreatePositionParams{
		TokenAddress:      token,
		ChainID:           domain.ChainBSC,
		BuyPriceUSD:       decimal.NewFromInt(1),
		AmountToken:       decimal.NewFromInt(10),
		AmountUSDInvested: decimal.NewFromInt(10),
		BuyTxRef:          "buy-" + token,
	})
	require.NoError(t, err)
	_, err = s.Close(ctx, p.ID, domain.CloseFields{
		SellTxRef:     "sell-" + token,
		PnL:           decimal.NewFromInt(2),
		PnLPercentage: decimal.NewFromInt(20),
		ClosedAt:      at,
	})
	require.NoError(t, err)
}

func TestArchivePositions_CompletedDaysOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	day1 := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	closePositionAt(t, store, "0xa", day1.Add(2*time.Hour))
	closePositionAt(t, store, "0xb", day1.Add(20*time.Hour))
	closePositionAt(t, store, "0xc", day1.Add(26*time.Hour))

	bucket := newFakeBucket()
	audit := memory.NewAuditStore()
	a := NewArchiver(bucket, bucket, store, nil, audit)

	// Mid-way through day two: only day one is complete.
	cutoff := day1.Add(36 * time.Hour)
	n, err := a.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.Contains(t, bucket.objects, "archive/positions/2026/03/14.jsonl")
	assert.Equal(t, 2, lines(t, bucket.objects["archive/positions/2026/03/14.jsonl"]))
	assert.NotContains(t, bucket.objects, "archive/positions/2026/03/15.jsonl")

	n, err = a.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n, "existing day file is not rewritten")

	n, err = a.ArchivePositions(ctx, day1.Add(48*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestArchiveReceipts(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := old.Add(10 * 24 * time.Hour)
	src := settledSource{
		{ID: "a", Kind: domain.JournalKindBuy, State: domain.JournalStateSettled, SettledAt: &old},
		{ID: "b", Kind: domain.JournalKindSell, State: domain.JournalStateSettled, SettledAt: &old},
		{ID: "c", Kind: domain.JournalKindBuy, State: domain.JournalStateSettled, SettledAt: &recent},
	}
	bucket := newFakeBucket()
	a := NewArchiver(bucket, nil, nil, src, nil)

	cutoff := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveReceipts(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	raw := bucket.objects["archive/receipts/20260305T000000Z.jsonl"]
	assert.Equal(t, 2, lines(t, raw))

	n, err = NewArchiver(bucket, nil, nil, settledSource{}, nil).ArchiveReceipts(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchive_UploadFailure(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bucket := newFakeBucket()
	bucket.putErr = errors.New("bucket offline")
	a := NewArchiver(bucket, nil, nil, settledSource{{ID: "a", SettledAt: &old}}, nil)

	_, err := a.ArchiveReceipts(ctx, old.Add(time.Hour))
	assert.ErrorContains(t, err, "bucket offline")
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://minio:9000", withScheme("minio:9000", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", withScheme("https://s3.example.com", false))
}
