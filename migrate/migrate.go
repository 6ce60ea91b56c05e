// Package migrate holds one-shot maintenance passes over the vector
// index. Each pass scans every point, soft-deleted ones included, and is
// safe to re-run: points already in the target state are skipped.
package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keepcontext/mnemo/memory"
	"github.com/keepcontext/mnemo/memory/index"
)

const pageSize = 256

// BackfillUser assigns owner to every point missing a user field. Records
// written before multi-tenancy have no user and are invisible to the
// mandatory filter until this runs.
func BackfillUser(ctx context.Context, idx index.Index, owner string) (int, error) {
	if owner == "" {
		return 0, fmt.Errorf("backfill: owner is required")
	}

	updated := 0
	err := scanAll(ctx, idx, func(p index.Point) error {
		if user, ok := p.Payload["user"].(string); ok && user != "" {
			return nil
		}
		p.Payload["user"] = owner
		if err := idx.SetPayload(ctx, p.ID, p.Payload); err != nil {
			return fmt.Errorf("backfill %s: %w", p.ID, err)
		}
		updated++
		return nil
	})
	if err != nil {
		return updated, err
	}
	slog.Info("user backfill complete", "owner", owner, "updated", updated)
	return updated, nil
}

// Reembed regenerates every point's vector with the given embedder. Run
// after switching embedding models; payloads are untouched.
func Reembed(ctx context.Context, idx index.Index, embedder memory.Embedder) (int, error) {
	updated := 0
	err := scanAll(ctx, idx, func(p index.Point) error {
		text, _ := p.Payload["text"].(string)
		if text == "" {
			slog.Warn("skipping point without text", "id", p.ID)
			return nil
		}
		vector, err := embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("reembed %s: %w", p.ID, err)
		}
		if err := idx.Upsert(ctx, index.Point{ID: p.ID, Vector: vector, Payload: p.Payload}); err != nil {
			return fmt.Errorf("rewrite %s: %w", p.ID, err)
		}
		updated++
		return nil
	})
	if err != nil {
		return updated, err
	}
	slog.Info("reembed complete", "updated", updated)
	return updated, nil
}

// Copy replicates every point from src into dst, vectors and payloads
// unchanged. Moves a local embedded collection to a remote index;
// re-running overwrites rather than duplicates because ids carry over.
func Copy(ctx context.Context, src, dst index.Index) (int, error) {
	copied := 0
	err := scanAll(ctx, src, func(p index.Point) error {
		if err := dst.Upsert(ctx, p); err != nil {
			return fmt.Errorf("copy %s: %w", p.ID, err)
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, err
	}
	slog.Info("index copy complete", "copied", copied)
	return copied, nil
}

// scanAll pages through the whole collection with no filter.
func scanAll(ctx context.Context, idx index.Index, fn func(index.Point) error) error {
	cursor := ""
	for {
		points, next, err := idx.Scroll(ctx, index.Filter{}, pageSize, cursor)
		if err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		for _, p := range points {
			if err := fn(p); err != nil {
				return err
			}
		}
		if next == "" || len(points) == 0 {
			return nil
		}
		cursor = next
	}
}
