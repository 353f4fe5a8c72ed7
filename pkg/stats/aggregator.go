// Package stats computes read-only rollups over the ingest queues and the
// dead-letter store for operational dashboards.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	shared "github.com/fitglue/ingest/pkg"
	"github.com/fitglue/ingest/pkg/providers"
	"github.com/fitglue/ingest/pkg/types"
)

// Retry histogram bucket labels, in display order.
var Buckets = []string{"0", "1-2", "3-5", "6-9", "10+"}

const maxClusters = 20

// Store is the read-only subset of shared.Database the aggregator uses.
type Store interface {
	ListQueueItems(ctx context.Context, collection string, q types.QueueQuery) ([]*types.QueueItem, error)
	CountQueueItems(ctx context.Context, collection string, q types.QueueQuery) (int64, error)
	ListFailedJobs(ctx context.Context, provider types.ProviderKind, limit int) ([]*types.FailedJob, error)
	CountFailedJobs(ctx context.Context, provider types.ProviderKind) (int64, error)
}

type Config struct {
	MaxRetry   int
	SampleSize int
}

// ErrorCluster is one normalized error shape and how often it was seen.
type ErrorCluster struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// ProviderStats is the rollup for one provider, or for all of them.
type ProviderStats struct {
	Provider         types.ProviderKind `json:"provider,omitempty"`
	Pending          int64              `json:"pending"`
	Succeeded        int64              `json:"succeeded"`
	Stuck            int64              `json:"stuck"`
	DeadLettered     int64              `json:"deadLettered"`
	HourlyThroughput int64              `json:"hourlyThroughput"`
	// LagSeconds is the age of the oldest pending item.
	LagSeconds           float64        `json:"lagSeconds"`
	RetryHistogram       map[string]int `json:"retryHistogram"`
	DeadLetterByContext  map[string]int `json:"deadLetterByContext"`
	DeadLetterByProvider map[string]int `json:"deadLetterByProvider"`
	ErrorClusters        []ErrorCluster `json:"errorClusters"`

	clusterCounts map[string]int
}

// Report is the aggregate across providers.
type Report struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Providers   []*ProviderStats `json:"providers"`
	Total       *ProviderStats   `json:"total"`
}

type Aggregator struct {
	store  Store
	kinds  []types.ProviderKind
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewAggregator(store Store, kinds []types.ProviderKind, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = shared.DefaultMaxRetry
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = shared.DefaultStatsSampleSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, kinds: kinds, cfg: cfg, logger: logger, now: time.Now}
}

// Report computes every provider's stats concurrently and folds them into a total.
func (a *Aggregator) Report(ctx context.Context) (*Report, error) {
	results := make([]*ProviderStats, len(a.kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range a.kinds {
		g.Go(func() error {
			s, err := a.ForProvider(gctx, kind)
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := newProviderStats("")
	for _, s := range results {
		total.merge(s)
	}
	total.finishClusters()

	return &Report{GeneratedAt: a.now(), Providers: results, Total: total}, nil
}

// ForProvider computes the stats of one provider's queue.
func (a *Aggregator) ForProvider(ctx context.Context, kind types.ProviderKind) (*ProviderStats, error) {
	collection := providers.QueueCollection(kind)
	if collection == "" {
		return nil, fmt.Errorf("unknown provider %q", kind)
	}
	now := a.now()
	s := newProviderStats(kind)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, q types.QueueQuery) {
		g.Go(func() error {
			n, err := a.store.CountQueueItems(gctx, collection, q)
			if err != nil {
				return fmt.Errorf("count %s: %w", collection, err)
			}
			mu.Lock()
			*dst = n
			mu.Unlock()
			return nil
		})
	}
	count(&s.Pending, types.QueueQuery{Processed: false, MaxRetryCount: a.cfg.MaxRetry})
	count(&s.Stuck, types.QueueQuery{Processed: false, MinRetryCount: a.cfg.MaxRetry})
	count(&s.Succeeded, types.QueueQuery{Processed: true})
	count(&s.HourlyThroughput, types.QueueQuery{Processed: true, ProcessedSince: now.Add(-time.Hour)})

	var pending []*types.QueueItem
	g.Go(func() error {
		items, err := a.store.ListQueueItems(gctx, collection, types.QueueQuery{
			Processed:   false,
			OldestFirst: true,
			Limit:       a.cfg.SampleSize,
		})
		if err != nil {
			return fmt.Errorf("sample %s: %w", collection, err)
		}
		pending = items
		return nil
	})

	var jobs []*types.FailedJob
	g.Go(func() error {
		n, err := a.store.CountFailedJobs(gctx, kind)
		if err != nil {
			return fmt.Errorf("count failed jobs: %w", err)
		}
		sample, err := a.store.ListFailedJobs(gctx, kind, a.cfg.SampleSize)
		if err != nil {
			return fmt.Errorf("sample failed jobs: %w", err)
		}
		mu.Lock()
		s.DeadLettered = n
		mu.Unlock()
		jobs = sample
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, item := range pending {
		s.RetryHistogram[bucket(item.RetryCount)]++
		if n := len(item.Errors); n > 0 {
			last := item.Errors[n-1]
			if len(last.Details) == 0 {
				s.addCluster(last.Error)
			}
			for _, d := range last.Details {
				s.addCluster(d)
			}
		}
	}
	if len(pending) > 0 && !pending[0].DateCreated.IsZero() {
		if lag := now.Sub(pending[0].DateCreated); lag > 0 {
			s.LagSeconds = lag.Seconds()
		}
	}

	for _, job := range jobs {
		s.DeadLetterByContext[job.Context]++
		s.DeadLetterByProvider[string(job.Provider)]++
		s.addCluster(job.Error)
	}
	s.finishClusters()

	a.logger.Debug("Computed queue stats", "provider", kind, "pending", s.Pending, "stuck", s.Stuck, "dead_lettered", s.DeadLettered)
	return s, nil
}

func newProviderStats(kind types.ProviderKind) *ProviderStats {
	s := &ProviderStats{
		Provider:             kind,
		RetryHistogram:       make(map[string]int, len(Buckets)),
		DeadLetterByContext:  map[string]int{},
		DeadLetterByProvider: map[string]int{},
		clusterCounts:        map[string]int{},
	}
	for _, b := range Buckets {
		s.RetryHistogram[b] = 0
	}
	return s
}

func bucket(retryCount int) string {
	switch {
	case retryCount <= 0:
		return "0"
	case retryCount <= 2:
		return "1-2"
	case retryCount <= 5:
		return "3-5"
	case retryCount <= 9:
		return "6-9"
	default:
		return "10+"
	}
}

func (s *ProviderStats) addCluster(raw string) {
	if raw == "" {
		return
	}
	s.clusterCounts[NormalizeError(raw)]++
}

func (s *ProviderStats) finishClusters() {
	clusters := make([]ErrorCluster, 0, len(s.clusterCounts))
	for p, n := range s.clusterCounts {
		clusters = append(clusters, ErrorCluster{Pattern: p, Count: n})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Pattern < clusters[j].Pattern
	})
	if len(clusters) > maxClusters {
		clusters = clusters[:maxClusters]
	}
	s.ErrorClusters = clusters
}

func (s *ProviderStats) merge(o *ProviderStats) {
	s.Pending += o.Pending
	s.Succeeded += o.Succeeded
	s.Stuck += o.Stuck
	s.DeadLettered += o.DeadLettered
	s.HourlyThroughput += o.HourlyThroughput
	if o.LagSeconds > s.LagSeconds {
		s.LagSeconds = o.LagSeconds
	}
	for k, v := range o.RetryHistogram {
		s.RetryHistogram[k] += v
	}
	for k, v := range o.DeadLetterByContext {
		s.DeadLetterByContext[k] += v
	}
	for k, v := range o.DeadLetterByProvider {
		s.DeadLetterByProvider[k] += v
	}
	for k, v := range o.clusterCounts {
		s.clusterCounts[k] += v
	}
}
