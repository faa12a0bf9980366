package job

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/checkpoint"
)

// hydrateChunk is the largest id batch one ListByIDs call serves.
const hydrateChunk = audit.MaxBatchSize

// resolver computes the candidate product set of one run. It advances the
// checkpoint only after a page's ids have been recorded, so an interruption
// at worst re-pages one page.
type resolver struct {
	catalog audit.Catalog
	cfg     audit.JobConfig
	cp      *checkpoint.Checkpoint
	logger  *zap.Logger
}

func (r *resolver) resolve(ctx context.Context) ([]audit.Product, error) {
	var (
		products []audit.Product
		err      error
	)
	if len(r.cfg.CollectionIDs) > 0 {
		products, err = r.byCollections(ctx)
	} else {
		products, err = r.byStatus(ctx)
	}
	if err != nil {
		return nil, err
	}
	if r.cfg.UpdatedAfter != nil {
		products = updatedAfter(products, *r.cfg.UpdatedAfter)
	}
	return products, nil
}

// byStatus pages the status listing. Ids paged by an earlier run but not yet
// processed are hydrated first.
func (r *resolver) byStatus(ctx context.Context) ([]audit.Product, error) {
	carried := r.unseen(r.cp.PrimaryIDs)
	var listed []audit.Product
	cursor := r.cp.PrimaryCursor
	for !r.cp.PrimaryComplete {
		page, next, err := r.catalog.ListByStatus(ctx, r.cfg.Status, r.cfg.BatchSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("list products: %w", err)
		}
		for _, p := range page {
			r.cp.PrimaryIDs = append(r.cp.PrimaryIDs, p.ID)
			if !r.cp.Seen(p.ID) {
				listed = append(listed, p)
			}
		}
		r.cp.PrimaryCursor = next
		if next == "" {
			r.cp.PrimaryComplete = true
		}
		cursor = next
		r.logger.Debug("listed product page", zap.Int("items", len(page)), zap.Bool("more", next != ""))
	}

	hydrated, err := r.hydrate(ctx, carried)
	if err != nil {
		return nil, err
	}
	return dedupe(append(hydrated, listed...)), nil
}

// byCollections pages every collection on its own cursor, unions the member
// ids and hydrates them in chunks. Status filtering happens client-side.
func (r *resolver) byCollections(ctx context.Context) ([]audit.Product, error) {
	var ids []int64
	for _, cid := range uniqueIDs(r.cfg.CollectionIDs) {
		st := r.cp.Collection(cid)
		for !st.Complete {
			members, next, err := r.catalog.ListCollectionMembers(ctx, cid, r.cfg.BatchSize, st.Cursor)
			if err != nil {
				return nil, fmt.Errorf("list collection %d: %w", cid, err)
			}
			st.ProductIDs = append(st.ProductIDs, members...)
			st.Cursor = next
			if next == "" {
				st.Complete = true
			}
		}
		r.logger.Debug("resolved collection",
			zap.Int64("collection_id", cid), zap.Int("members", len(st.ProductIDs)))
		ids = append(ids, st.ProductIDs...)
	}
	return r.hydrate(ctx, r.unseen(ids))
}

func (r *resolver) hydrate(ctx context.Context, ids []int64) ([]audit.Product, error) {
	var out []audit.Product
	for chunk := range slices.Chunk(ids, hydrateChunk) {
		batch, err := r.catalog.ListByIDs(ctx, chunk, hydrateChunk)
		if err != nil {
			return nil, fmt.Errorf("hydrate products: %w", err)
		}
		for _, p := range batch {
			if matchesStatus(p.Status, r.cfg.Status) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// unseen returns ids not yet processed, without duplicates, in first-seen order.
func (r *resolver) unseen(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	dup := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if r.cp.Seen(id) {
			continue
		}
		if _, ok := dup[id]; ok {
			continue
		}
		dup[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func matchesStatus(got, want audit.ProductStatus) bool {
	return want == "" || want == audit.StatusAny || got == want
}

// updatedAfter keeps products modified strictly after cutoff. Products without
// a timestamp are dropped.
func updatedAfter(products []audit.Product, cutoff time.Time) []audit.Product {
	out := products[:0]
	for _, p := range products {
		if p.UpdatedAt.After(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(products []audit.Product) []audit.Product {
	seen := make(map[int64]struct{}, len(products))
	out := products[:0]
	for _, p := range products {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
