package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"cloud.google.com/go/firestore"

	"github.com/fitglue/ingest/pkg/bootstrap"
	"github.com/fitglue/ingest/pkg/infrastructure/database"
	"github.com/fitglue/ingest/pkg/stats"
	"github.com/fitglue/ingest/pkg/types"
)

func main() {
	provider := flag.String("provider", "", "Only report this provider (garmin, suunto, coros)")
	sample := flag.Int("sample", 0, "Documents sampled for histograms and error clusters (default STATS_SAMPLE_SIZE)")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := bootstrap.NewLogger("queue-stats", cfg.LogLevel)

	if *sample > 0 {
		cfg.StatsSampleSize = *sample
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		log.Fatalf("firestore init: %v", err)
	}
	defer client.Close()

	agg := stats.NewAggregator(database.NewFirestoreAdapter(client), types.AllProviders, stats.Config{
		MaxRetry:   cfg.MaxRetry,
		SampleSize: cfg.StatsSampleSize,
	}, logger)

	var out interface{}
	if *provider != "" {
		kind, err := types.ParseProviderKind(*provider)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		out, err = agg.ForProvider(ctx, kind)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
	} else {
		out, err = agg.Report(ctx)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
