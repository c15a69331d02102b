package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// BlobStore is the object-store surface the pipeline consumes. The GCS
// implementation lives in internal/gcp; tests substitute an in-memory fake.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// List returns every key under prefix. Callers must not assume the
	// result is sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Annotator is the batch OCR backend surface.
type Annotator interface {
	// Submit starts a batch annotation job reading sourceURI and writing
	// numbered JSON shards under destinationURI.
	Submit(ctx context.Context, sourceURI, destinationURI, mimeType string, batchSize int) (models.JobHandle, error)
	// Await blocks until the operation behind handle finishes or timeout
	// elapses. It returns nil on completion, models.ErrAwaitTimeout when
	// the budget is exhausted, or a *models.BackendError on failure.
	Await(ctx context.Context, handle models.JobHandle, timeout time.Duration) error
}

// JobRecorder persists job lifecycle records. A nil recorder disables
// recording; recording failures are never allowed to fail a job.
type JobRecorder interface {
	Create(ctx context.Context, rec *models.JobRecord) (string, error)
	Update(ctx context.Context, id string, fields map[string]any) error
}
