package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nao1215/d2crawl/internal/database"
	"github.com/nao1215/d2crawl/internal/model"
)

// FrontierStore is the part of the store the frontier reads and writes.
type FrontierStore interface {
	GuardianAfter(ctx context.Context, rowID int64) (model.Guardian, int64, error)
	SourceConsumed(ctx context.Context, id model.GuardianID) (bool, error)
	MarkSourceConsumed(ctx context.Context, id model.GuardianID) (bool, error)
	Cursor(ctx context.Context) (int64, error)
	AdvanceCursor(ctx context.Context, rowID int64) error
}

// Source is a guardian selected for a history walk, with its row id in the
// guardian table.
type Source struct {
	Guardian model.Guardian
	RowID    int64
}

// ID returns the guardian identity of the source.
func (s Source) ID() model.GuardianID {
	return s.Guardian.ID()
}

// Frontier selects sources from the guardian table in stored order.
//
// It owns the crawl cursor and the lock that serializes source selection and
// claiming, so two paths sharing a frontier never resolve the same source.
// The persisted cursor only moves past a source once the source is completed
// or skipped; a crash in the middle of a source resumes at that source.
type Frontier struct {
	mu sync.Mutex

	store  FrontierStore
	logger *slog.Logger

	loaded  bool
	last    int64
	claimed map[model.GuardianID]struct{}
}

// NewFrontier creates a frontier over store. The cursor is read from the
// store on the first call to Next.
func NewFrontier(store FrontierStore, logger *slog.Logger) *Frontier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Frontier{
		store:   store,
		logger:  logger,
		claimed: make(map[model.GuardianID]struct{}),
	}
}

// Next returns the next unconsumed, public guardian. It returns an error
// wrapping database.ErrNotFound when the cursor runs past the end of the
// guardian table. No source is returned twice by one frontier.
func (f *Frontier) Next(ctx context.Context) (Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.loaded {
		cursor, err := f.store.Cursor(ctx)
		if err != nil {
			return Source{}, err
		}
		f.last = cursor
		f.loaded = true
	}

	for {
		g, rowID, err := f.store.GuardianAfter(ctx, f.last)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return Source{}, fmt.Errorf("frontier exhausted after row %d: %w", f.last, database.ErrNotFound)
			}
			return Source{}, err
		}
		f.last = rowID

		if g.IsPrivate {
			f.logger.Debug("skipping source", "guardian", g.ID().String(), "reason", reasonPrivate)
			if err := f.store.AdvanceCursor(ctx, rowID); err != nil {
				return Source{}, err
			}
			continue
		}
		consumed, err := f.store.SourceConsumed(ctx, g.ID())
		if err != nil {
			return Source{}, err
		}
		if consumed {
			f.logger.Debug("skipping source", "guardian", g.ID().String(), "reason", reasonConsumed)
			if err := f.store.AdvanceCursor(ctx, rowID); err != nil {
				return Source{}, err
			}
			continue
		}
		return Source{Guardian: g, RowID: rowID}, nil
	}
}

// Claim re-checks under the frontier lock that src is still unconsumed and
// not being resolved by another path, and reserves it. It reports false when
// the source must be skipped.
func (f *Frontier) Claim(ctx context.Context, src Source) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := src.ID()
	if _, busy := f.claimed[id]; busy {
		f.logger.Info("source is already being resolved, skipping", "guardian", id.String(), "reason", reasonBusy)
		return false, nil
	}
	consumed, err := f.store.SourceConsumed(ctx, id)
	if err != nil {
		return false, err
	}
	if consumed {
		f.logger.Info("source is already consumed, skipping", "guardian", id.String(), "reason", reasonConsumed)
		return false, nil
	}
	f.claimed[id] = struct{}{}
	return true, nil
}

// Complete marks src consumed and moves the persisted cursor past it.
func (f *Frontier) Complete(ctx context.Context, src Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.claimed, src.ID())
	if _, err := f.store.MarkSourceConsumed(ctx, src.ID()); err != nil {
		return err
	}
	return f.store.AdvanceCursor(ctx, src.RowID)
}

// Skip releases src without consuming it and moves the persisted cursor
// past it. The source is visited again only after the cursor is rewound.
func (f *Frontier) Skip(ctx context.Context, src Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.claimed, src.ID())
	return f.store.AdvanceCursor(ctx, src.RowID)
}

// Release drops the claim on src without touching the store, so a later run
// resumes at the same source.
func (f *Frontier) Release(src Source) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.claimed, src.ID())
}
