// Package audit defines core types shared across the link audit subsystems.
package audit

import (
	"strings"
	"time"
)

// ProductStatus is the catalog visibility state of a product.
type ProductStatus string

// Product status values understood by the catalog. StatusAny is only valid as a filter.
const (
	StatusActive   ProductStatus = "active"
	StatusDraft    ProductStatus = "draft"
	StatusArchived ProductStatus = "archived"
	StatusAny      ProductStatus = "any"
)

// Hidden reports whether a product in this status is not visible to shoppers.
func (s ProductStatus) Hidden() bool {
	return s == StatusDraft || s == StatusArchived
}

// LinkStatus classifies the reachability of a single URL.
type LinkStatus string

// Link status values produced by the verifier.
const (
	LinkOK                     LinkStatus = "ok"
	LinkRedirectedOK           LinkStatus = "redirected_ok"
	LinkBrokenNotFound         LinkStatus = "broken_not_found"
	LinkBrokenClientError      LinkStatus = "broken_client_error"
	LinkBrokenServerError      LinkStatus = "broken_server_error"
	LinkBrokenTimeout          LinkStatus = "broken_timeout"
	LinkBrokenDNS              LinkStatus = "broken_dns"
	LinkBrokenSSL              LinkStatus = "broken_ssl"
	LinkBrokenTooManyRedirects LinkStatus = "broken_too_many_redirects"
	LinkBrokenOther            LinkStatus = "broken_other"
	LinkNoURL                  LinkStatus = "no_url"
	// LinkUnchecked marks a check abandoned because its job was cancelled.
	LinkUnchecked LinkStatus = "unchecked"
)

// IsBroken reports whether the status marks the link unreachable.
func (s LinkStatus) IsBroken() bool {
	return strings.HasPrefix(string(s), "broken_")
}

// BrokenAction is the visibility change applied to products with a broken link.
type BrokenAction string

// Supported broken-link actions.
const (
	ActionHide    BrokenAction = "hide"
	ActionArchive BrokenAction = "archive"
	ActionIgnore  BrokenAction = "ignore"
)

// TargetStatus returns the product status the action moves a product into.
// Ignore has no target and returns false.
func (a BrokenAction) TargetStatus() (ProductStatus, bool) {
	switch a {
	case ActionHide:
		return StatusDraft, true
	case ActionArchive:
		return StatusArchived, true
	default:
		return "", false
	}
}

// ActionType records what happened to a product in the ledger.
type ActionType string

// Ledger action values.
const (
	ActionTypeNoAction        ActionType = "no_action"
	ActionTypeNoURLs          ActionType = "no_urls"
	ActionTypeHidden          ActionType = "hidden"
	ActionTypeArchived        ActionType = "archived"
	ActionTypeIgnored         ActionType = "ignored"
	ActionTypeAlreadyHidden   ActionType = "already_hidden"
	ActionTypeAlreadyArchived ActionType = "already_archived"
	ActionTypeWouldHide       ActionType = "would_hide"
	ActionTypeWouldArchive    ActionType = "would_archive"
	ActionTypeWouldIgnore     ActionType = "would_ignore"
	ActionTypePendingReview   ActionType = "pending_review"
	ActionTypeError           ActionType = "error"
)

// JobStatus represents the lifecycle state of an audit job.
type JobStatus string

// Job status values.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Product is the narrow view of a catalog record the audit reads.
type Product struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	Status    ProductStatus `json:"status"`
	Handle    string        `json:"handle"`
	ImageURL  string        `json:"image_url,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// LinkCheckResult is the verdict for one URL. FinalURL is empty and HTTPStatus
// zero when no response was received.
type LinkCheckResult struct {
	OriginalURL   string     `json:"original_url"`
	FinalURL      string     `json:"final_url,omitempty"`
	HTTPStatus    int        `json:"http_status,omitempty"`
	RedirectCount int        `json:"redirect_count"`
	WasRedirected bool       `json:"was_redirected"`
	LinkStatus    LinkStatus `json:"link_status"`
	IsBroken      bool       `json:"is_broken"`
	Error         string     `json:"error,omitempty"`
}

// CheckResult is one ledger row: a (product, URL) pair, or a product with no URL.
type CheckResult struct {
	ProductID     int64         `json:"product_id"`
	ProductTitle  string        `json:"product_title"`
	ProductStatus ProductStatus `json:"product_status"`
	ProductHandle string        `json:"product_handle"`
	ProductImage  string        `json:"product_image,omitempty"`
	Metafield     string        `json:"metafield"`
	LinkCheckResult
	Action    ActionType `json:"action"`
	CheckedAt time.Time  `json:"checked_at"`
}

// JobStats tracks running counters for a job. Counters only grow.
type JobStats struct {
	TotalProducts     int `json:"total_products"`
	Processed         int `json:"processed"`
	DraftedCount      int `json:"drafted_count"`
	ArchivedCount     int `json:"archived_count"`
	IgnoredCount      int `json:"ignored_count"`
	BrokenURLCount    int `json:"broken_url_count"`
	OKURLCount        int `json:"ok_url_count"`
	RedirectedOKCount int `json:"redirected_ok_count"`
	NoURLCount        int `json:"no_url_count"`
	ErrorsCount       int `json:"errors_count"`
	BatchIndex        int `json:"batch_index"`
	TotalBatches      int `json:"total_batches"`
}

// Job is the metadata kept for each submitted audit.
type Job struct {
	ID          string     `json:"id"`
	Config      JobConfig  `json:"config"`
	Status      JobStatus  `json:"status"`
	Stats       JobStats   `json:"stats"`
	ResumeToken string     `json:"resume_token,omitempty"`
	Error       string     `json:"error,omitempty"`
	Submitted   time.Time  `json:"submitted_at"`
	Started     *time.Time `json:"started_at,omitempty"`
	Finished    *time.Time `json:"finished_at,omitempty"`
}
