package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		JobID: "0190b1a6-7c3e-7000-8000-000000000001",
		TS:    time.Unix(0, 0),
		Stage: StageJobStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals broken links per batch.
func ExampleSink() {
	var broken int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			for _, row := range evt.Rows {
				if row.IsBroken {
					broken++
				}
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
		Lossless:       true,
	}, capture)

	hub.Emit(Event{
		JobID: "0190b1a6-7c3e-7000-8000-000000000002",
		TS:    time.Unix(0, 0),
		Stage: StageBatchDone,
		Stats: audit.JobStats{BatchIndex: 1, TotalBatches: 1},
		Rows: []audit.CheckResult{
			{ProductID: 1, LinkCheckResult: audit.LinkCheckResult{LinkStatus: audit.LinkOK}},
			{ProductID: 2, LinkCheckResult: audit.LinkCheckResult{LinkStatus: audit.LinkBrokenNotFound, IsBroken: true}},
		},
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("broken links: %d\n", broken)
	// Output:
	// broken links: 1
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
