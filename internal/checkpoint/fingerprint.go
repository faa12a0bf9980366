package checkpoint

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/catalog"
	"github.com/JakeFAU/metafield-link-auditor/internal/hash/sha256"
)

// scopeHasher digests canonical scopes.
var scopeHasher audit.Hasher = sha256.New()

// Scope is the part of a job's configuration that determines which products
// it visits. Two jobs with equal scopes may share a checkpoint.
type Scope struct {
	Shop          string
	Status        audit.ProductStatus
	Namespace     string
	Key           string
	CollectionIDs []int64
}

// ScopeOf extracts the scope of a job configuration.
func ScopeOf(cfg audit.JobConfig) Scope {
	return Scope{
		Shop:          cfg.Shop,
		Status:        cfg.Status,
		Namespace:     cfg.Namespace,
		Key:           cfg.Key,
		CollectionIDs: cfg.CollectionIDs,
	}
}

// canonicalScope fixes field order and normalizes values for hashing.
type canonicalScope struct {
	CollectionIDs []int64 `json:"collection_ids"`
	Key           string  `json:"key"`
	Namespace     string  `json:"namespace"`
	Shop          string  `json:"shop"`
	Status        string  `json:"status"`
}

// Fingerprint hashes a scope. It ignores collection order, duplicate
// collection ids, shop scheme and shop case.
func Fingerprint(s Scope) (string, error) {
	canon := canonicalScope{
		Key:       s.Key,
		Namespace: s.Namespace,
		Shop:      catalog.NormalizeShop(s.Shop),
		Status:    string(s.Status),
	}
	if len(s.CollectionIDs) > 0 {
		ids := slices.Clone(s.CollectionIDs)
		slices.Sort(ids)
		canon.CollectionIDs = slices.Compact(ids)
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("encode scope: %w", err)
	}
	return scopeHasher.Hash(data)
}
