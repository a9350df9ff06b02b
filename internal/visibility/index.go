// Package visibility derives what a viewer may respond to and what they have hidden.
package visibility

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"peerlearn/api/internal/store"
)

const defaultPageSize = 50

// Source is the slice of the request store the index reads from.
type Source interface {
	ListAvailable(ctx context.Context, viewerID string, after *store.AvailableCursor, limit int) ([]store.Request, error)
	ListHidden(ctx context.Context, viewerID string) ([]string, error)
}

// Cache holds per-viewer hidden sets. A miss returns ok=false.
type Cache interface {
	Hidden(ctx context.Context, viewerID string) (ids []string, ok bool, err error)
	StoreHidden(ctx context.Context, viewerID string, ids []string) error
	Invalidate(ctx context.Context, viewerID string) error
}

type Index struct {
	source   Source
	cache    Cache
	pageSize int
	logger   *slog.Logger
}

// NewIndex builds an index over source. cache may be nil.
func NewIndex(source Source, cache Cache, pageSize int, logger *slog.Logger) *Index {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{source: source, cache: cache, pageSize: pageSize, logger: logger}
}

// AvailableFor yields requests viewerID may respond to, newest first. Pages
// are fetched lazily as the sequence is consumed; ranging over the result
// again starts from the top. Requests the viewer already participates in
// are skipped. Iteration stops after the first error.
func (ix *Index) AvailableFor(ctx context.Context, viewerID string) iter.Seq2[store.Request, error] {
	return func(yield func(store.Request, error) bool) {
		var cursor *store.AvailableCursor
		for {
			page, err := ix.source.ListAvailable(ctx, viewerID, cursor, ix.pageSize)
			if err != nil {
				yield(store.Request{}, fmt.Errorf("list available: %w", err))
				return
			}
			for _, item := range page {
				if slices.Contains(item.Participants, viewerID) {
					continue
				}
				if !yield(item, nil) {
					return
				}
			}
			if len(page) < ix.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &store.AvailableCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// Collect drains AvailableFor up to limit items (limit <= 0 means all).
func (ix *Index) Collect(ctx context.Context, viewerID string, limit int) ([]store.Request, error) {
	items := make([]store.Request, 0)
	for item, err := range ix.AvailableFor(ctx, viewerID) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

// HiddenFor returns the sorted ids viewerID has hidden. Cache failures fall
// back to the store.
func (ix *Index) HiddenFor(ctx context.Context, viewerID string) ([]string, error) {
	if ix.cache != nil {
		ids, ok, err := ix.cache.Hidden(ctx, viewerID)
		if err != nil {
			ix.logger.Warn("hidden cache read failed", "viewer_id", viewerID, "error", err)
		} else if ok {
			return ids, nil
		}
	}

	ids, err := ix.source.ListHidden(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list hidden: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	slices.Sort(ids)

	if ix.cache != nil {
		if err := ix.cache.StoreHidden(ctx, viewerID, ids); err != nil {
			ix.logger.Warn("hidden cache write failed", "viewer_id", viewerID, "error", err)
		}
	}
	return ids, nil
}

// Invalidate drops the cached hidden set after the viewer's marks changed.
func (ix *Index) Invalidate(ctx context.Context, viewerID string) {
	if ix.cache == nil {
		return
	}
	if err := ix.cache.Invalidate(ctx, viewerID); err != nil {
		ix.logger.Warn("hidden cache invalidate failed", "viewer_id", viewerID, "error", err)
	}
}
