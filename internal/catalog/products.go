package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

// MaxPageSize is the largest page the API serves.
const MaxPageSize = 250

const productFields = "id,title,status,handle,images,image,updated_at"

type productRecord struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	Status    string        `json:"status"`
	Handle    string        `json:"handle"`
	UpdatedAt string        `json:"updated_at"`
	Images    []imageRecord `json:"images"`
	Image     *imageRecord  `json:"image"`
}

type imageRecord struct {
	Src string `json:"src"`
}

func (r productRecord) toProduct() audit.Product {
	p := audit.Product{
		ID:     r.ID,
		Title:  r.Title,
		Status: audit.ProductStatus(strings.ToLower(r.Status)),
		Handle: r.Handle,
	}
	switch {
	case len(r.Images) > 0:
		p.ImageURL = r.Images[0].Src
	case r.Image != nil:
		p.ImageURL = r.Image.Src
	}
	if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
		p.UpdatedAt = t
	}
	return p
}

func toProducts(records []productRecord) []audit.Product {
	out := make([]audit.Product, 0, len(records))
	for _, r := range records {
		out = append(out, r.toProduct())
	}
	return out
}

func clampPage(n int) int {
	if n <= 0 || n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// ListByStatus returns one page of products. A follow-up cursor carries the
// original filters, so only limit and page_info are sent with it.
func (c *Client) ListByStatus(ctx context.Context, status audit.ProductStatus, pageSize int, cursor string) ([]audit.Product, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(clampPage(pageSize)))
	if cursor != "" {
		q.Set("page_info", cursor)
	} else {
		q.Set("fields", productFields)
		if status != "" && status != audit.StatusAny {
			q.Set("status", string(status))
		}
	}

	var resp struct {
		Products []productRecord `json:"products"`
	}
	header, err := c.do(ctx, "list_products", http.MethodGet, "products.json", q, nil, &resp)
	if err != nil {
		return nil, "", err
	}
	return toProducts(resp.Products), nextPageInfo(header.Get("Link")), nil
}

// ListByIDs hydrates up to maxBatch (at most MaxPageSize) products. Extra ids
// are ignored; callers chunk larger sets.
func (c *Client) ListByIDs(ctx context.Context, ids []int64, maxBatch int) ([]audit.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	maxBatch = clampPage(maxBatch)
	if len(ids) > maxBatch {
		ids = ids[:maxBatch]
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	q := url.Values{}
	q.Set("ids", strings.Join(parts, ","))
	q.Set("limit", strconv.Itoa(len(ids)))
	q.Set("fields", productFields)

	var resp struct {
		Products []productRecord `json:"products"`
	}
	if _, err := c.do(ctx, "list_products_by_ids", http.MethodGet, "products.json", q, nil, &resp); err != nil {
		return nil, err
	}
	return toProducts(resp.Products), nil
}

// ListCollectionMembers returns one page of product ids in a collection.
func (c *Client) ListCollectionMembers(ctx context.Context, collectionID int64, pageSize int, cursor string) ([]int64, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(clampPage(pageSize)))
	if cursor != "" {
		q.Set("page_info", cursor)
	} else {
		q.Set("collection_id", strconv.FormatInt(collectionID, 10))
	}

	var resp struct {
		Collects []struct {
			ProductID int64 `json:"product_id"`
		} `json:"collects"`
	}
	header, err := c.do(ctx, "list_collects", http.MethodGet, "collects.json", q, nil, &resp)
	if err != nil {
		return nil, "", err
	}
	ids := make([]int64, 0, len(resp.Collects))
	for _, col := range resp.Collects {
		ids = append(ids, col.ProductID)
	}
	return ids, nextPageInfo(header.Get("Link")), nil
}

// GetMetadataField reads a product metafield. A missing product or field is
// reported as found == false, not as an error.
func (c *Client) GetMetadataField(ctx context.Context, productID int64, namespace, key string) (string, bool, error) {
	q := url.Values{}
	q.Set("namespace", namespace)
	q.Set("key", key)

	var resp struct {
		Metafields []struct {
			Namespace string          `json:"namespace"`
			Key       string          `json:"key"`
			Value     json.RawMessage `json:"value"`
		} `json:"metafields"`
	}
	path := fmt.Sprintf("products/%d/metafields.json", productID)
	if _, err := c.do(ctx, "get_metafield", http.MethodGet, path, q, nil, &resp); err != nil {
		if IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	for _, mf := range resp.Metafields {
		if (mf.Namespace == "" || mf.Namespace == namespace) && (mf.Key == "" || mf.Key == key) {
			return rawValue(mf.Value), true, nil
		}
	}
	return "", false, nil
}

// rawValue unquotes JSON strings and passes other JSON values through as text.
func rawValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// SetVisibility moves a product into status and returns the updated record.
func (c *Client) SetVisibility(ctx context.Context, productID int64, status audit.ProductStatus) (audit.Product, error) {
	body := map[string]any{
		"product": map[string]any{
			"id":     productID,
			"status": string(status),
		},
	}
	var resp struct {
		Product productRecord `json:"product"`
	}
	path := fmt.Sprintf("products/%d.json", productID)
	if _, err := c.do(ctx, "set_visibility", http.MethodPut, path, nil, body, &resp); err != nil {
		return audit.Product{}, err
	}
	p := resp.Product.toProduct()
	if p.ID == 0 {
		p.ID = productID
	}
	if p.Status == "" {
		p.Status = status
	}
	return p, nil
}
