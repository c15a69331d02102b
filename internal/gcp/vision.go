package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// The backend only accepts these input types for batch file annotation.
var supportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/tiff":      true,
}

// VisionAnnotator wraps the Vision image annotator client for asynchronous
// batch document text detection.
type VisionAnnotator struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionAnnotator creates a new annotator instance.
func NewVisionAnnotator(ctx context.Context) (*VisionAnnotator, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &VisionAnnotator{client: client}, nil
}

// Submit starts an asynchronous batch annotation of the source object.
// Output shards are written under destinationURI, batchSize pages per
// shard. The returned handle is the long-running operation name.
func (a *VisionAnnotator) Submit(ctx context.Context, sourceURI, destinationURI, mimeType string, batchSize int) (models.JobHandle, error) {
	if !supportedMimeTypes[mimeType] {
		return "", fmt.Errorf("unsupported mime type %q", mimeType)
	}
	if batchSize <= 0 {
		return "", fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	req := &visionpb.AsyncBatchAnnotateFilesRequest{
		Requests: []*visionpb.AsyncAnnotateFileRequest{
			{
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				InputConfig: &visionpb.InputConfig{
					GcsSource: &visionpb.GcsSource{Uri: sourceURI},
					MimeType:  mimeType,
				},
				OutputConfig: &visionpb.OutputConfig{
					GcsDestination: &visionpb.GcsDestination{Uri: destinationURI},
					BatchSize:      int32(batchSize),
				},
			},
		},
	}

	op, err := a.client.AsyncBatchAnnotateFiles(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to submit batch annotate request: %w", err)
	}
	slog.Info("Batch annotate operation started.", "operation", op.Name(), "source", sourceURI)
	return models.JobHandle(op.Name()), nil
}

// Await blocks until the operation behind handle finishes or timeout
// elapses. The operation is re-attached by name, so awaiting again after a
// timeout never resubmits the job.
func (a *VisionAnnotator) Await(ctx context.Context, handle models.JobHandle, timeout time.Duration) error {
	op := a.client.AsyncBatchAnnotateFilesOperation(string(handle))

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := op.Wait(waitCtx); err != nil {
		// The deadline may surface as a wrapped context error or as an RPC
		// status; the expired wait context disambiguates.
		if errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
			slog.Warn("OCR operation did not finish within the wait budget.", "operation", string(handle), "timeout", timeout)
			return models.ErrAwaitTimeout
		}
		return &models.BackendError{Detail: err.Error()}
	}
	return nil
}

// Close releases the underlying client.
func (a *VisionAnnotator) Close() error {
	return a.client.Close()
}
