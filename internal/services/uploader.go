package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// UploaderConfig holds configuration for the uploader service.
type UploaderConfig struct {
	DocsBucket  string
	InputPrefix string // prefix source documents are committed under
}

// Uploader commits a source document to the store's input prefix. PDF
// uploads are validated and optimized before the write; TIFF uploads pass
// through untouched.
type Uploader struct {
	store  BlobStore
	config UploaderConfig
}

// UploadResult describes a committed source document.
type UploadResult struct {
	SourceKey string
	PageCount int
}

// NewUploader creates an uploader wired to GCS, configured from the
// environment.
func NewUploader(ctx context.Context) (*Uploader, error) {
	docsBucket := gcp.GetEnv("DOCS_BUCKET", "")
	if docsBucket == "" {
		return nil, fmt.Errorf("DOCS_BUCKET environment variable must be set")
	}

	store, err := gcp.NewBlobStore(ctx, docsBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	return NewUploaderWith(store, UploaderConfig{DocsBucket: docsBucket}), nil
}

// NewUploaderWith creates an uploader with an injected store.
func NewUploaderWith(store BlobStore, config UploaderConfig) *Uploader {
	if config.InputPrefix == "" {
		config.InputPrefix = "input"
	}
	return &Uploader{store: store, config: config}
}

// Process validates the document and writes it durably to the input prefix.
// On any error the store is left without a (new) source object and the
// pipeline stays in Idle.
func (u *Uploader) Process(ctx context.Context, doc *models.SourceDocument) (*UploadResult, error) {
	if doc.Filename == "" {
		return nil, fmt.Errorf("upload is missing a filename")
	}

	content := doc.Content
	var pageCount int
	switch doc.ContentType {
	case "application/pdf":
		optimized, pages, err := u.optimizeUpload(doc)
		if err != nil {
			return nil, err
		}
		content = optimized
		pageCount = pages
	case "image/tiff":
		// No local pre-processing for TIFF; the backend reads it as-is.
	default:
		return nil, fmt.Errorf("unsupported content type %q for %s", doc.ContentType, doc.Filename)
	}

	key := path.Join(u.config.InputPrefix, path.Base(doc.Filename))
	if err := u.store.Put(ctx, key, content, doc.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store upload %s: %w", doc.Filename, err)
	}

	slog.Info("Upload committed.", "sourceKey", key, "bytes", len(content), "pageCount", pageCount)
	return &UploadResult{SourceKey: key, PageCount: pageCount}, nil
}

// optimizeUpload round-trips the PDF through pdfcpu, which both validates
// it and strips redundant objects, and counts its pages.
func (u *Uploader) optimizeUpload(doc *models.SourceDocument) ([]byte, int, error) {
	tempDir, err := os.MkdirTemp("", "ocr-upload-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, doc.Content, 0o644); err != nil {
		return nil, 0, fmt.Errorf("failed to stage upload: %w", err)
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		return nil, 0, fmt.Errorf("failed to validate/optimize PDF %s: %w", doc.Filename, err)
	}
	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get page count: %w", err)
	}
	optimized, err := os.ReadFile(optimizedPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read optimized PDF: %w", err)
	}
	return optimized, pageCount, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
