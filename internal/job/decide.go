package job

import (
	"context"
	"fmt"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/metrics"
)

// Disposition is the outcome class of a broken-link decision.
type Disposition string

// Disposition values.
const (
	DispositionNone           Disposition = "none"
	DispositionApplied        Disposition = "applied"
	DispositionSimulated      Disposition = "simulated"
	DispositionAlreadyInState Disposition = "already_in_state"
	DispositionPendingReview  Disposition = "pending_review"
	DispositionFailed         Disposition = "failed"
)

// Policy is the part of a job config that drives decisions.
type Policy struct {
	DryRun     bool
	AutoAction bool
	Action     audit.BrokenAction
}

// PolicyOf extracts the decision policy of a job configuration.
func PolicyOf(cfg audit.JobConfig) Policy {
	return Policy{DryRun: cfg.DryRun, AutoAction: cfg.AutoAction, Action: cfg.BrokenAction}
}

// Decision is what should happen to one product. Target is set only when a
// catalog mutation is required.
type Decision struct {
	Disposition Disposition
	Action      audit.ActionType
	Target      audit.ProductStatus
}

// Mutates reports whether applying the decision calls the catalog.
func (d Decision) Mutates() bool {
	return d.Target != ""
}

// Mutator is the single mutating catalog operation.
type Mutator interface {
	SetVisibility(ctx context.Context, productID int64, status audit.ProductStatus) (audit.Product, error)
}

// Decide maps a product's current status and link verdict onto a decision.
// Dry-run wins over auto-action.
func Decide(current audit.ProductStatus, broken bool, p Policy) Decision {
	if !broken {
		return Decision{Disposition: DispositionNone, Action: audit.ActionTypeNoAction}
	}
	if current.Hidden() {
		action := audit.ActionTypeAlreadyHidden
		if current == audit.StatusArchived {
			action = audit.ActionTypeAlreadyArchived
		}
		return Decision{Disposition: DispositionAlreadyInState, Action: action}
	}
	if p.DryRun {
		return Decision{Disposition: DispositionSimulated, Action: simulatedAction(p.Action)}
	}
	if !p.AutoAction {
		return Decision{Disposition: DispositionPendingReview, Action: audit.ActionTypePendingReview}
	}
	target, ok := p.Action.TargetStatus()
	if !ok {
		return Decision{Disposition: DispositionApplied, Action: audit.ActionTypeIgnored}
	}
	return Decision{Disposition: DispositionApplied, Action: appliedAction(p.Action), Target: target}
}

// Apply performs the mutation a decision requires. A failed mutation turns the
// decision into DispositionFailed with the error action; the error is returned
// for logging only.
func Apply(ctx context.Context, m Mutator, productID int64, d Decision) (Decision, error) {
	if !d.Mutates() {
		return d, nil
	}
	_, err := m.SetVisibility(ctx, productID, d.Target)
	metrics.ObserveProductAction(string(d.Action), err)
	if err != nil {
		return Decision{Disposition: DispositionFailed, Action: audit.ActionTypeError},
			fmt.Errorf("set product %d to %s: %w", productID, d.Target, err)
	}
	return d, nil
}

func simulatedAction(a audit.BrokenAction) audit.ActionType {
	switch a {
	case audit.ActionArchive:
		return audit.ActionTypeWouldArchive
	case audit.ActionIgnore:
		return audit.ActionTypeWouldIgnore
	default:
		return audit.ActionTypeWouldHide
	}
}

func appliedAction(a audit.BrokenAction) audit.ActionType {
	switch a {
	case audit.ActionArchive:
		return audit.ActionTypeArchived
	case audit.ActionIgnore:
		return audit.ActionTypeIgnored
	default:
		return audit.ActionTypeHidden
	}
}

// tally folds one product's outcome into the job counters.
func tally(stats *audit.JobStats, results []audit.LinkCheckResult, d Decision) {
	if d.Disposition == DispositionNone {
		for _, r := range results {
			switch r.LinkStatus {
			case audit.LinkOK:
				stats.OKURLCount++
			case audit.LinkRedirectedOK:
				stats.RedirectedOKCount++
			}
		}
	} else {
		for _, r := range results {
			if r.IsBroken {
				stats.BrokenURLCount++
			}
		}
	}
	if c := actionCounter(stats, d.Action); c != nil {
		*c++
	}
}

// restate moves one product from the counter of its previous action to the
// counter of next.
func restate(stats *audit.JobStats, previous, next audit.ActionType) {
	if c := actionCounter(stats, previous); c != nil && *c > 0 {
		*c--
	}
	if c := actionCounter(stats, next); c != nil {
		*c++
	}
}

func actionCounter(stats *audit.JobStats, a audit.ActionType) *int {
	switch a {
	case audit.ActionTypeHidden:
		return &stats.DraftedCount
	case audit.ActionTypeArchived:
		return &stats.ArchivedCount
	case audit.ActionTypeIgnored:
		return &stats.IgnoredCount
	case audit.ActionTypeError:
		return &stats.ErrorsCount
	default:
		return nil
	}
}
