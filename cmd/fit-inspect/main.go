package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"cloud.google.com/go/storage"

	"github.com/fitglue/ingest/pkg/domain/fit_parser"
	infrastorage "github.com/fitglue/ingest/pkg/infrastructure/storage"
)

func main() {
	inputPath := flag.String("input", "", "Path to FIT file, local or gs://bucket/object")
	asJSON := flag.Bool("json", false, "Print the summary as JSON")
	flag.Parse()

	if *inputPath == "" {
		fmt.Println("Please provide input file with -input")
		os.Exit(1)
	}

	data, err := read(context.Background(), *inputPath)
	if err != nil {
		fmt.Printf("Failed to read file: %v\n", err)
		os.Exit(1)
	}

	summary, err := fit_parser.Summarize(data)
	if err != nil {
		fmt.Printf("Failed to decode FIT file: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Printf("Failed to encode summary: %v\n", err)
			os.Exit(1)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Sport\t%s\n", summary.Sport)
	fmt.Fprintf(w, "Start\t%s\n", summary.StartTime.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration\t%.0fm%02.0fs\n", summary.TotalElapsedTime/60, float64(int(summary.TotalElapsedTime)%60))
	fmt.Fprintf(w, "Distance\t%.2f km\n", summary.TotalDistance/1000)
	fmt.Fprintf(w, "Sessions\t%d\n", summary.Sessions)
	fmt.Fprintf(w, "Records\t%d\n", summary.Records)
	w.Flush()
}

// read loads a local file, or an ingested workout straight from the artifact bucket.
func read(ctx context.Context, path string) ([]byte, error) {
	rest, ok := strings.CutPrefix(path, "gs://")
	if !ok {
		return os.ReadFile(path)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || object == "" {
		return nil, fmt.Errorf("malformed GCS URI %q", path)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}
	defer client.Close()

	adapter := &infrastorage.StorageAdapter{Client: client}
	return adapter.Read(ctx, bucket, object)
}
