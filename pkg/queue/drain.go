package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fitglue/ingest/pkg/types"
)

// DrainResult counts the outcomes of one drain pass.
type DrainResult struct {
	Provider     types.ProviderKind `json:"provider"`
	Selected     int                `json:"selected"`
	Processed    int                `json:"processed"`
	Retried      int                `json:"retried"`
	DeadLettered int                `json:"deadLettered"`
	Skipped      int                `json:"skipped"`
	Errored      int                `json:"errored"`
}

// Drain processes one batch of pending items, oldest first. Items run
// concurrently up to the configured limit; each item's credential chain stays
// sequential. Items one past the retry ceiling are included so they receive
// their final, dead-lettering pass.
func (p *Processor) Drain(ctx context.Context, kind types.ProviderKind) (DrainResult, error) {
	result := DrainResult{Provider: kind}
	adapter, err := p.providers.Get(kind)
	if err != nil {
		return result, err
	}
	collection := adapter.Config().QueueCollection

	items, err := p.store.ListQueueItems(ctx, collection, types.QueueQuery{
		Processed:     false,
		MaxRetryCount: p.cfg.MaxRetry + 1,
		OldestFirst:   true,
		Limit:         p.cfg.BatchSize,
	})
	if err != nil {
		return result, fmt.Errorf("list pending %s: %w", collection, err)
	}
	result.Selected = len(items)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, item := range items {
		g.Go(func() error {
			outcome, err := p.Process(gctx, kind, item)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errored++
				p.logger.Error("Queue item failed", "provider", kind, "item_id", item.ID, "error", err)
				return nil
			}
			switch outcome {
			case OutcomeProcessed:
				result.Processed++
			case OutcomeRetry:
				result.Retried++
			case OutcomeDeadLettered:
				result.DeadLettered++
			case OutcomeSkipped:
				result.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	p.logger.Info("Queue drained", "provider", kind, "selected", result.Selected, "processed", result.Processed,
		"retried", result.Retried, "dead_lettered", result.DeadLettered, "errored", result.Errored)
	return result, ctx.Err()
}
