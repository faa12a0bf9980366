package job

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

type setCall struct {
	ID     int64
	Status audit.ProductStatus
}

// fakeCatalog serves an in-memory catalog with offset cursors.
type fakeCatalog struct {
	mu          sync.Mutex
	order       []int64
	products    map[int64]audit.Product
	metafields  map[int64]string
	collections map[int64][]int64

	listErrCursor map[string]error
	metaErr       map[int64]error
	setErr        error

	listCursors []string
	byIDCalls   [][]int64
	metaCalls   []int64
	sets        []setCall
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:      map[int64]audit.Product{},
		metafields:    map[int64]string{},
		collections:   map[int64][]int64{},
		listErrCursor: map[string]error{},
		metaErr:       map[int64]error{},
	}
}

func (f *fakeCatalog) add(p audit.Product, metafield string) {
	if p.Status == "" {
		p.Status = audit.StatusActive
	}
	if p.Title == "" {
		p.Title = fmt.Sprintf("Product %d", p.ID)
	}
	f.order = append(f.order, p.ID)
	f.products[p.ID] = p
	if metafield != "" {
		f.metafields[p.ID] = metafield
	}
}

func (f *fakeCatalog) ListByStatus(_ context.Context, status audit.ProductStatus, pageSize int, cursor string) ([]audit.Product, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCursors = append(f.listCursors, cursor)
	if err, ok := f.listErrCursor[cursor]; ok {
		delete(f.listErrCursor, cursor)
		return nil, "", err
	}
	var all []audit.Product
	for _, id := range f.order {
		p := f.products[id]
		if status == audit.StatusAny || p.Status == status {
			all = append(all, p)
		}
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", errors.New("bad cursor")
		}
		offset = n
	}
	end := min(offset+pageSize, len(all))
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return slices.Clone(all[offset:end]), next, nil
}

func (f *fakeCatalog) ListByIDs(_ context.Context, ids []int64, maxBatch int) ([]audit.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) > maxBatch {
		ids = ids[:maxBatch]
	}
	f.byIDCalls = append(f.byIDCalls, slices.Clone(ids))
	var out []audit.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListCollectionMembers(_ context.Context, collectionID int64, pageSize int, cursor string) ([]int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.collections[collectionID]
	offset := 0
	if cursor != "" {
		offset, _ = strconv.Atoi(cursor)
	}
	end := min(offset+pageSize, len(members))
	next := ""
	if end < len(members) {
		next = strconv.Itoa(end)
	}
	return slices.Clone(members[offset:end]), next, nil
}

func (f *fakeCatalog) GetMetadataField(_ context.Context, productID int64, _, _ string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaCalls = append(f.metaCalls, productID)
	if err, ok := f.metaErr[productID]; ok {
		delete(f.metaErr, productID)
		return "", false, err
	}
	v, ok := f.metafields[productID]
	return v, ok, nil
}

func (f *fakeCatalog) SetVisibility(_ context.Context, productID int64, status audit.ProductStatus) (audit.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, setCall{ID: productID, Status: status})
	if f.setErr != nil {
		return audit.Product{}, f.setErr
	}
	p := f.products[productID]
	p.Status = status
	f.products[productID] = p
	return p, nil
}

func (f *fakeCatalog) Sets() []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sets)
}

func (f *fakeCatalog) MetaCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.metaCalls)
}

// fakeVerifier reports every URL reachable unless listed in broken.
type fakeVerifier struct {
	broken map[string]audit.LinkStatus
}

func (v fakeVerifier) Check(_ context.Context, url string) audit.LinkCheckResult {
	if status, ok := v.broken[url]; ok {
		return audit.LinkCheckResult{
			OriginalURL: url,
			FinalURL:    url,
			HTTPStatus:  404,
			LinkStatus:  status,
			IsBroken:    true,
			Error:       "HTTP 404 Not Found",
		}
	}
	return audit.LinkCheckResult{OriginalURL: url, FinalURL: url, HTTPStatus: 200, LinkStatus: audit.LinkOK}
}

func (v fakeVerifier) CheckMany(ctx context.Context, urls []string) []audit.LinkCheckResult {
	out := make([]audit.LinkCheckResult, len(urls))
	for i, u := range urls {
		out[i] = v.Check(ctx, u)
	}
	return out
}

// cancellingVerifier cancels the job while its checks are in flight.
type cancellingVerifier struct {
	cancel context.CancelFunc
}

func (v cancellingVerifier) Check(_ context.Context, url string) audit.LinkCheckResult {
	v.cancel()
	return audit.LinkCheckResult{OriginalURL: url, LinkStatus: audit.LinkUnchecked, Error: "Check cancelled"}
}

func (v cancellingVerifier) CheckMany(ctx context.Context, urls []string) []audit.LinkCheckResult {
	out := make([]audit.LinkCheckResult, len(urls))
	for i, u := range urls {
		out[i] = v.Check(ctx, u)
	}
	return out
}
