package audit

import (
	"context"
	"time"
)

// Catalog is paginated access to the remote product catalog.
// An empty cursor starts a stream; an empty next cursor ends it.
type Catalog interface {
	ListByStatus(ctx context.Context, status ProductStatus, pageSize int, cursor string) ([]Product, string, error)
	ListByIDs(ctx context.Context, ids []int64, maxBatch int) ([]Product, error)
	ListCollectionMembers(ctx context.Context, collectionID int64, pageSize int, cursor string) ([]int64, string, error)
	GetMetadataField(ctx context.Context, productID int64, namespace, key string) (string, bool, error)
	SetVisibility(ctx context.Context, productID int64, status ProductStatus) (Product, error)
}

// LinkVerifier checks URL reachability. It never returns an error; failures are
// classified into the result.
type LinkVerifier interface {
	Check(ctx context.Context, url string) LinkCheckResult
	CheckMany(ctx context.Context, urls []string) []LinkCheckResult
}

// JobStore keeps job metadata and ledgers for whoever hosts jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	UpdateJob(ctx context.Context, job Job) error
	AppendResults(ctx context.Context, jobID string, rows []CheckResult) error
	ListResults(ctx context.Context, jobID string) ([]CheckResult, error)
	// SetProductAction rewrites the action of a product's ledger rows and
	// returns how many changed. When any row changes, restate adjusts the job
	// counters from the product's previous action in the same step.
	SetProductAction(ctx context.Context, jobID string, productID int64, action ActionType, restate func(stats *JobStats, previous ActionType)) (int, error)
}

// Hasher computes digests for scope fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
