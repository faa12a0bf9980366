// Package checkpoint holds the portable scan state that lets an interrupted
// audit resume where it stopped.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Version is the current checkpoint layout.
const Version = 1

// IDSet is a set of product ids. It encodes as a sorted JSON array.
type IDSet map[int64]struct{}

// Has reports membership.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id int64) {
	s[id] = struct{}{}
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// MarshalJSON implements json.Marshaler.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("decode id set: %w", err)
	}
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	*s = set
	return nil
}

// CollectionState is the resumable listing state of one collection.
type CollectionState struct {
	Cursor     string  `json:"cursor,omitempty"`
	ProductIDs []int64 `json:"product_ids,omitempty"`
	Complete   bool    `json:"complete,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. Older tokens keep the cursor
// under page_info.
func (s *CollectionState) UnmarshalJSON(data []byte) error {
	type plain CollectionState
	aux := struct {
		*plain
		PageInfo *string `json:"page_info"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if s.Cursor == "" && aux.PageInfo != nil {
		s.Cursor = *aux.PageInfo
	}
	return nil
}

// Checkpoint is a snapshot of scan progress. Build one with New.
//
// Primary* fields track the status listing; Collections track membership
// listings. Ids accumulated from pages are kept until the run finishes so a
// resumed run can re-hydrate them instead of losing already-paged items.
type Checkpoint struct {
	Version         int                        `json:"v"`
	Fingerprint     string                     `json:"scope_hash"`
	PrimaryCursor   string                     `json:"page_info,omitempty"`
	PrimaryIDs      []int64                    `json:"primary_ids,omitempty"`
	PrimaryComplete bool                       `json:"primary_complete,omitempty"`
	Collections     map[int64]*CollectionState `json:"collects_state"`
	SeenIDs         IDSet                      `json:"seen_ids"`
	ProcessedCount  int                        `json:"processed_count"`
	SavedAt         time.Time                  `json:"timestamp"`
}

// savedAtLayouts are accepted for the timestamp key. Older tokens carry a
// naive UTC time without an offset.
var savedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	type plain Checkpoint
	aux := struct {
		*plain
		SavedAt *string `json:"timestamp"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.SavedAt = time.Time{}
	if aux.SavedAt == nil || *aux.SavedAt == "" {
		return nil
	}
	for _, layout := range savedAtLayouts {
		if t, err := time.Parse(layout, *aux.SavedAt); err == nil {
			c.SavedAt = t
			return nil
		}
	}
	return fmt.Errorf("decode timestamp %q: unrecognized layout", *aux.SavedAt)
}

// New returns an empty checkpoint bound to a scope fingerprint.
func New(fingerprint string) *Checkpoint {
	return &Checkpoint{
		Version:     Version,
		Fingerprint: fingerprint,
		Collections: make(map[int64]*CollectionState),
		SeenIDs:     make(IDSet),
	}
}

// Seen reports whether id was already processed.
func (c *Checkpoint) Seen(id int64) bool {
	return c.SeenIDs.Has(id)
}

// MarkSeen records id as processed.
func (c *Checkpoint) MarkSeen(id int64) {
	c.SeenIDs.Add(id)
}

// Collection returns the state for id, creating it when absent.
func (c *Checkpoint) Collection(id int64) *CollectionState {
	st, ok := c.Collections[id]
	if !ok {
		st = &CollectionState{}
		c.Collections[id] = st
	}
	return st
}

// Resumed reports whether the checkpoint carries any prior progress.
func (c *Checkpoint) Resumed() bool {
	return len(c.SeenIDs) > 0 || c.PrimaryCursor != "" || len(c.PrimaryIDs) > 0 ||
		c.PrimaryComplete || len(c.Collections) > 0 || c.ProcessedCount > 0
}

func (c *Checkpoint) normalize() {
	if c.Collections == nil {
		c.Collections = make(map[int64]*CollectionState)
	}
	for id, st := range c.Collections {
		if st == nil {
			c.Collections[id] = &CollectionState{}
		}
	}
	if c.SeenIDs == nil {
		c.SeenIDs = make(IDSet)
	}
}

// Prune drops accumulated ids that were already processed. Listing state is
// kept so a resume never re-pages finished listings.
func (c *Checkpoint) Prune() {
	c.PrimaryIDs = pruneSeen(c.PrimaryIDs, c.SeenIDs)
	for _, st := range c.Collections {
		st.ProductIDs = pruneSeen(st.ProductIDs, c.SeenIDs)
	}
}

func pruneSeen(ids []int64, seen IDSet) []int64 {
	if len(ids) == 0 {
		return ids
	}
	out := ids[:0]
	for _, id := range ids {
		if !seen.Has(id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
