package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig holds configuration for the orchestrator service.
type OrchestratorConfig struct {
	ProjectID     string
	DocsBucket    string
	MimeType      string
	BatchSize     int
	OutputPrefix  string // root under which per-job destination prefixes are minted
	TranscriptKey string // flat text object the final transcript is written to
}

// Orchestrator drives one OCR job end-to-end: submit, await, fetch and
// merge the output shards, persist the transcript, purge the shards.
type Orchestrator struct {
	store     BlobStore
	annotator Annotator
	recorder  JobRecorder
	config    OrchestratorConfig
}

// Job is one submitted batch operation awaiting collection. It stays valid
// across a timed-out wait so a retry can re-enter Collect without
// resubmitting.
type Job struct {
	Handle            models.JobHandle
	SourceKey         string
	DestinationPrefix string
	RecordID          string
}

// TranscriptResult is the outcome of a completed job.
type TranscriptResult struct {
	Text         string
	ShardCount   int
	PageSegments int
}

// NewOrchestrator creates an orchestrator wired to GCS, Vision and
// Firestore, configured from the environment.
func NewOrchestrator(ctx context.Context) (*Orchestrator, error) {
	config, err := loadOrchestratorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := gcp.NewBlobStore(ctx, config.DocsBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	annotator, err := gcp.NewVisionAnnotator(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create annotator: %w", err)
	}
	recorder, err := gcp.NewJobStore(ctx, config.ProjectID, gcp.GetEnv("FIRESTORE_COLLECTION", "ocr-jobs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create job store: %w", err)
	}

	return NewOrchestratorWith(store, annotator, recorder, *config), nil
}

// NewOrchestratorWith creates an orchestrator with injected dependencies.
// recorder may be nil, which disables job records.
func NewOrchestratorWith(store BlobStore, annotator Annotator, recorder JobRecorder, config OrchestratorConfig) *Orchestrator {
	if config.OutputPrefix == "" {
		config.OutputPrefix = "output"
	}
	if config.TranscriptKey == "" {
		config.TranscriptKey = "transcripts/transcription.txt"
	}
	return &Orchestrator{
		store:     store,
		annotator: annotator,
		recorder:  recorder,
		config:    config,
	}
}

func loadOrchestratorConfig() (*OrchestratorConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	docsBucket := gcp.GetEnv("DOCS_BUCKET", "")
	if docsBucket == "" {
		return nil, fmt.Errorf("DOCS_BUCKET environment variable must be set")
	}
	batchSize, err := strconv.Atoi(gcp.GetEnv("OCR_BATCH_SIZE", "100"))
	if err != nil || batchSize <= 0 {
		return nil, fmt.Errorf("OCR_BATCH_SIZE must be a positive integer")
	}

	return &OrchestratorConfig{
		ProjectID:     projectID,
		DocsBucket:    docsBucket,
		MimeType:      gcp.GetEnv("OCR_MIME_TYPE", "application/pdf"),
		BatchSize:     batchSize,
		OutputPrefix:  gcp.GetEnv("OCR_OUTPUT_PREFIX", "output"),
		TranscriptKey: gcp.GetEnv("TRANSCRIPT_OBJECT", "transcripts/transcription.txt"),
	}, nil
}

// RunJob drives a complete OCR job for an already-committed source object
// and returns the assembled transcript. An empty destinationPrefix mints a
// fresh unique one; passing a prefix is only meant for callers that manage
// prefix ownership themselves.
func (o *Orchestrator) RunJob(ctx context.Context, sourceKey, destinationPrefix string, timeout time.Duration) (*TranscriptResult, error) {
	job, err := o.Submit(ctx, sourceKey, destinationPrefix)
	if err != nil {
		return nil, err
	}
	return o.Collect(ctx, job, timeout)
}

// Submit hands the source object to the OCR backend and returns the
// in-flight job. The source object must already be durable in the store;
// the prior upload stage guarantees that.
func (o *Orchestrator) Submit(ctx context.Context, sourceKey, destinationPrefix string) (*Job, error) {
	if destinationPrefix == "" {
		destinationPrefix = o.newDestinationPrefix(sourceKey)
	}
	sourceURI := fmt.Sprintf("gs://%s/%s", o.config.DocsBucket, sourceKey)
	destinationURI := fmt.Sprintf("gs://%s/%s", o.config.DocsBucket, destinationPrefix)

	handle, err := o.annotator.Submit(ctx, sourceURI, destinationURI, o.config.MimeType, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("backend rejected the job for %s: %w", sourceKey, err)
	}

	job := &Job{
		Handle:            handle,
		SourceKey:         sourceKey,
		DestinationPrefix: destinationPrefix,
	}
	if o.recorder != nil {
		id, err := o.recorder.Create(ctx, &models.JobRecord{
			OriginalFilename:  path.Base(sourceKey),
			SourceKey:         sourceKey,
			DestinationPrefix: destinationPrefix,
			OperationName:     string(handle),
			Status:            "OCR_RUNNING",
			CreatedAt:         time.Now(),
		})
		if err != nil {
			slog.Warn("Failed to create job record", "error", err, "sourceKey", sourceKey)
		} else {
			job.RecordID = id
		}
	}
	return job, nil
}

// Collect blocks until the job finishes, then assembles the transcript and
// purges the destination prefix. On timeout or backend failure the
// destination prefix is left untouched; the remote job may still be writing
// to it.
func (o *Orchestrator) Collect(ctx context.Context, job *Job, timeout time.Duration) (*TranscriptResult, error) {
	logCtx := slog.With("operation", string(job.Handle), "destinationPrefix", job.DestinationPrefix)

	if err := o.annotator.Await(ctx, job.Handle, timeout); err != nil {
		var backendErr *models.BackendError
		if errors.As(err, &backendErr) {
			o.recordUpdate(ctx, job, map[string]any{"status": "FAILED", "errorDetails": backendErr.Detail})
			logCtx.Error("OCR operation failed remotely.", "error", err)
			return nil, err
		}
		// Timed out. The job record stays OCR_RUNNING; a retry re-enters
		// the wait on the same operation.
		return nil, err
	}

	keys, err := o.store.List(ctx, job.DestinationPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list result shards: %w", err)
	}
	// The store's listing order is not trusted; shard processing order is
	// lexicographic by key.
	sort.Strings(keys)
	logCtx.Info("Found result shards.", "shardCount", len(keys))

	result, err := o.mergeShards(ctx, logCtx, keys)
	if err != nil {
		return nil, err
	}

	persistErr := o.store.Put(ctx, o.config.TranscriptKey, []byte(result.Text), "text/plain; charset=utf-8")

	// Cleanup runs unconditionally once fetch/merge is done, even when the
	// transcript could not be persisted.
	o.cleanup(ctx, logCtx, keys)

	if persistErr != nil {
		return nil, fmt.Errorf("failed to persist transcript to %s: %w", o.config.TranscriptKey, persistErr)
	}

	o.recordUpdate(ctx, job, map[string]any{
		"status":       "COMPLETE",
		"shardCount":   result.ShardCount,
		"pageSegments": result.PageSegments,
	})
	logCtx.Info("Job complete.", "pageSegments", result.PageSegments, "shardCount", result.ShardCount)
	return result, nil
}

// mergeShards fetches every shard concurrently and concatenates page text
// in (shard-key, page-index) order. keys must already be sorted; fetched
// shards land in key-indexed slots so completion order never leaks into the
// transcript. A shard that fails to parse is skipped, not fatal.
func (o *Orchestrator) mergeShards(ctx context.Context, logCtx *slog.Logger, keys []string) (*TranscriptResult, error) {
	shards := make([]*models.ResultShard, len(keys))

	eg, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		eg.Go(func() error {
			data, err := o.store.Get(gctx, key)
			if err != nil {
				return fmt.Errorf("failed to fetch shard %s: %w", key, err)
			}
			var shard models.ResultShard
			if err := json.Unmarshal(data, &shard); err != nil {
				logCtx.Error("Skipping shard that failed to parse.", "shardKey", key, "error", err)
				return nil
			}
			shards[i] = &shard
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var transcript strings.Builder
	result := &TranscriptResult{}
	for i, shard := range shards {
		if shard == nil {
			continue // parse failure, already logged
		}
		result.ShardCount++
		for _, page := range shard.Responses {
			if page.FullTextAnnotation == nil {
				// A page with no detected text still contributes a segment
				// so segment count stays aligned with page count.
				logCtx.Info("No annotation for page; contributing empty segment.", "shardKey", keys[i])
			}
			transcript.WriteString(page.Text())
			result.PageSegments++
		}
	}
	result.Text = transcript.String()
	return result, nil
}

// cleanup deletes every object under the destination prefix. Deletion
// failures are logged and do not fail the job; the transcript is already
// assembled. The source object is never touched.
func (o *Orchestrator) cleanup(ctx context.Context, logCtx *slog.Logger, keys []string) {
	var failed int
	for _, key := range keys {
		if err := o.store.Delete(ctx, key); err != nil {
			failed++
			logCtx.Error("Failed to delete intermediate shard.", "shardKey", key, "error", err)
		}
	}
	logCtx.Info("Destination prefix purged.", "objectCount", len(keys), "failedDeletes", failed)
}

func (o *Orchestrator) recordUpdate(ctx context.Context, job *Job, fields map[string]any) {
	if o.recorder == nil || job.RecordID == "" {
		return
	}
	if err := o.recorder.Update(ctx, job.RecordID, fields); err != nil {
		slog.Warn("Failed to update job record", "error", err, "recordId", job.RecordID)
	}
}

// newDestinationPrefix mints a prefix no other job can collide with, even a
// stale one still being written by an abandoned operation.
func (o *Orchestrator) newDestinationPrefix(sourceKey string) string {
	base := strings.TrimSuffix(path.Base(sourceKey), path.Ext(sourceKey))
	return fmt.Sprintf("%s/%s-%d-%s/", o.config.OutputPrefix, base, time.Now().Unix(), uuid.NewString())
}
