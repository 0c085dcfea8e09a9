// Package journal durably records swap receipts before the position write
// they imply, so a crash or store outage after an on-chain swap never loses
// the swap.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

const ext = ".json"

// FileJournal keeps one JSON file per entry in a directory. Writes go to a
// temp file that is synced and renamed into place.
type FileJournal struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewFileJournal opens (creating if needed) the journal directory.
func NewFileJournal(dir string) (*FileJournal, error) {
	if dir == "" {
		return nil, errors.New("journal: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("journal: create %s: %w", dir, err)
	}
	return &FileJournal{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (j *FileJournal) path(id string) string {
	return filepath.Join(j.dir, id+ext)
}

// Append writes a new entry. A missing state defaults to PENDING.
func (j *FileJournal) Append(_ context.Context, entry domain.JournalEntry) error {
	if entry.ID == "" || strings.ContainsAny(entry.ID, `/\`) {
		return fmt.Errorf("journal: invalid entry id %q", entry.ID)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := os.Stat(j.path(entry.ID)); err == nil {
		return fmt.Errorf("journal: entry %s: %w", entry.ID, domain.ErrAlreadyExists)
	}
	now := j.now()
	if entry.State == "" {
		entry.State = domain.JournalStatePending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	return j.write(entry)
}

// MarkSettled flips an entry to SETTLED. Settling twice is a no-op.
func (j *FileJournal) MarkSettled(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.load(id)
	if err != nil {
		return err
	}
	if entry.State == domain.JournalStateSettled {
		return nil
	}
	now := j.now()
	entry.State = domain.JournalStateSettled
	entry.SettledAt = &now
	entry.UpdatedAt = now
	return j.write(entry)
}

// Pending lists unsettled entries, oldest first.
func (j *FileJournal) Pending(_ context.Context) ([]domain.JournalEntry, error) {
	return j.list(func(e domain.JournalEntry) bool {
		return e.State == domain.JournalStatePending
	})
}

// SettledBefore lists entries settled before the cutoff, oldest first.
func (j *FileJournal) SettledBefore(_ context.Context, before time.Time) ([]domain.JournalEntry, error) {
	return j.list(func(e domain.JournalEntry) bool {
		return e.State == domain.JournalStateSettled && e.SettledAt != nil && e.SettledAt.Before(before)
	})
}

// Remove deletes an entry. Only settled entries may be removed.
func (j *FileJournal) Remove(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.load(id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if entry.State != domain.JournalStateSettled {
		return fmt.Errorf("journal: refusing to remove pending entry %s", id)
	}
	if err := os.Remove(j.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("journal: remove %s: %w", id, err)
	}
	return nil
}

func (j *FileJournal) load(id string) (domain.JournalEntry, error) {
	data, err := os.ReadFile(j.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.JournalEntry{}, fmt.Errorf("journal: entry %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("journal: read %s: %w", id, err)
	}
	var entry domain.JournalEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("journal: parse %s: %w", id, err)
	}
	return entry, nil
}

func (j *FileJournal) write(entry domain.JournalEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal %s: %w", entry.ID, err)
	}
	path := j.path(entry.ID)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("journal: open temp %s: %w", entry.ID, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("journal: write %s: %w", entry.ID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("journal: sync %s: %w", entry.ID, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: close %s: %w", entry.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: rename %s: %w", entry.ID, err)
	}
	return nil
}

func (j *FileJournal) list(keep func(domain.JournalEntry) bool) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	dirEntries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("journal: read dir: %w", err)
	}
	var out []domain.JournalEntry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || filepath.Ext(name) != ext {
			continue
		}
		entry, err := j.load(strings.TrimSuffix(name, ext))
		if err != nil {
			return nil, err
		}
		if keep(entry) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

var _ domain.ReceiptJournal = (*FileJournal)(nil)
