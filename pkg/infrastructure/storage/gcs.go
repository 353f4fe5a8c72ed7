package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"

	"github.com/fitglue/ingest/pkg/types"
)

// FitContentType is stored on every raw workout object.
const FitContentType = "application/vnd.ant.fit"

// StorageAdapter provides blob storage operations using Google Cloud Storage
type StorageAdapter struct {
	Client *storage.Client
}

func (a *StorageAdapter) Write(ctx context.Context, bucketName, objectName string, data []byte) error {
	wc := a.Client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if path.Ext(objectName) == ".fit" {
		wc.ContentType = FitContentType
	}
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write gs://%s/%s: %w", bucketName, objectName, err)
	}
	return wc.Close()
}

func (a *StorageAdapter) Read(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	rc, err := a.Client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WorkoutObjectPath is where the raw file of an ingested workout lives.
func WorkoutObjectPath(provider types.ProviderKind, userID, workoutID string) string {
	return path.Join("workouts", string(provider), userID, workoutID+".fit")
}

// URI renders a gs:// reference.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}
