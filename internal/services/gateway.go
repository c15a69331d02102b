package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/pipeline"
)

// Gateway exposes the stage-gated pipeline surface consumed by the UI
// shell: upload, run OCR, display. It owns the single pipeline instance and
// serializes stage invocations, so at most one job is ever in flight.
type Gateway struct {
	machine      *pipeline.Machine
	uploader     *Uploader
	orchestrator *Orchestrator
	timeout      time.Duration

	mu         sync.Mutex
	sourceKey  string
	currentJob *Job
	transcript *TranscriptResult
}

// NewGateway creates a gateway wired to GCS, Vision and Firestore,
// configured from the environment.
func NewGateway(ctx context.Context) (*Gateway, error) {
	config, err := loadOrchestratorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	timeoutSeconds, err := strconv.Atoi(gcp.GetEnv("OCR_TIMEOUT_SECONDS", "420"))
	if err != nil || timeoutSeconds <= 0 {
		return nil, fmt.Errorf("OCR_TIMEOUT_SECONDS must be a positive integer")
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

	return NewGatewayWith(
		NewUploaderWith(store, UploaderConfig{DocsBucket: config.DocsBucket}),
		NewOrchestratorWith(store, annotator, recorder, *config),
		time.Duration(timeoutSeconds)*time.Second,
	), nil
}

// NewGatewayWith creates a gateway with injected stage services.
func NewGatewayWith(uploader *Uploader, orchestrator *Orchestrator, timeout time.Duration) *Gateway {
	return &Gateway{
		machine:      pipeline.New(),
		uploader:     uploader,
		orchestrator: orchestrator,
		timeout:      timeout,
	}
}

// State returns the current pipeline stage for button-gating.
func (g *Gateway) State() pipeline.State {
	return g.machine.Current()
}

// OnUpload commits the document to the store and acknowledges the upload.
// Invoked outside Idle it performs no side effect and returns
// ErrInvalidStage, so a repeated click uploads at most once.
func (g *Gateway) OnUpload(ctx context.Context, doc *models.SourceDocument) (*UploadResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.machine.Current() != pipeline.Idle {
		return nil, models.ErrInvalidStage
	}

	result, err := g.uploader.Process(ctx, doc)
	if err != nil {
		// Pipeline stays Idle; the caller may retry the upload.
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	g.sourceKey = result.SourceKey
	g.machine.Fire(pipeline.UploadAck)
	return result, nil
}

// OnRunOcr runs the OCR stage. From Uploaded it submits a fresh job; from
// OcrRunning (a previous wait timed out) it re-enters the wait on the same
// operation without resubmitting. Job-level failures leave the stage
// unadvanced so the UI can offer a retry.
func (g *Gateway) OnRunOcr(ctx context.Context) (*TranscriptResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.machine.Current() {
	case pipeline.Uploaded:
		job, err := g.orchestrator.Submit(ctx, g.sourceKey, "")
		if err != nil {
			// Submission rejected; stage stays Uploaded.
			return nil, err
		}
		g.currentJob = job
		g.machine.Fire(pipeline.OcrTrigger)
	case pipeline.OcrRunning:
		if g.currentJob == nil {
			return nil, models.ErrInvalidStage
		}
		slog.Info("Re-entering wait for in-flight OCR operation.", "operation", string(g.currentJob.Handle))
	default:
		return nil, models.ErrInvalidStage
	}

	result, err := g.orchestrator.Collect(ctx, g.currentJob, g.timeout)
	if err != nil {
		// Stage stays OcrRunning; on timeout the next invocation re-awaits.
		return nil, err
	}

	g.transcript = result
	g.currentJob = nil
	g.machine.Fire(pipeline.OcrDone)
	return result, nil
}

// OnDisplay returns the assembled transcript and resets the pipeline to
// Idle so a new document can be processed. The persisted transcript object
// survives until the next job overwrites it.
func (g *Gateway) OnDisplay(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.machine.Current() != pipeline.OcrComplete || g.transcript == nil {
		return "", models.ErrInvalidStage
	}

	text := g.transcript.Text
	g.machine.Fire(pipeline.Display)
	g.machine.Fire(pipeline.Reset)
	g.sourceKey = ""
	return text, nil
}
