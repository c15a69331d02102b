package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// GCSEvent is the payload of a GCS object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// UploadWatcher acknowledges source documents the moment they become
// durable in the input prefix, writing an UPLOADED record for traceability.
type UploadWatcher struct {
	recorder    JobRecorder
	inputPrefix string
}

// NewUploadWatcher creates a watcher configured from the environment.
func NewUploadWatcher(ctx context.Context) (*UploadWatcher, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	recorder, err := gcp.NewJobStore(ctx, projectID, gcp.GetEnv("FIRESTORE_COLLECTION", "ocr-jobs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create job store: %w", err)
	}
	return NewUploadWatcherWith(recorder, gcp.GetEnv("INPUT_PREFIX", "input")), nil
}

// NewUploadWatcherWith creates a watcher with an injected recorder.
func NewUploadWatcherWith(recorder JobRecorder, inputPrefix string) *UploadWatcher {
	return &UploadWatcher{recorder: recorder, inputPrefix: strings.TrimSuffix(inputPrefix, "/")}
}

// Process handles one object-finalized event. Objects outside the input
// prefix (shards, transcripts) are ignored.
func (w *UploadWatcher) Process(ctx context.Context, e GCSEvent) error {
	if !strings.HasPrefix(e.Name, w.inputPrefix+"/") {
		slog.Debug("Ignoring object outside the input prefix.", "object", e.Name)
		return nil
	}

	slog.Info("Source document is durable.", "bucket", e.Bucket, "sourceKey", e.Name)
	if w.recorder == nil {
		return nil
	}
	if _, err := w.recorder.Create(ctx, &models.JobRecord{
		OriginalFilename: path.Base(e.Name),
		SourceKey:        e.Name,
		Status:           "UPLOADED",
		CreatedAt:        time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to record upload acknowledgment: %w", err)
	}
	return nil
}
