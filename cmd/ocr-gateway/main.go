package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/services"
)

var (
	gatewayInstance *services.Gateway
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleOcrGateway", handleOcrGateway)
}

// main is required by the Go Functions Framework.
func main() {}

// handleOcrGateway routes the UI shell's stage actions. All three stage
// endpoints share one gateway instance, which owns the pipeline state.
func handleOcrGateway(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		gatewayInstance, initErr = services.NewGateway(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Gateway initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/upload":
		handleUpload(w, r)
	case "/run-ocr":
		handleRunOcr(w, r)
	case "/display":
		handleDisplay(w, r)
	case "/state", "":
		writeJSON(w, models.StateResponse{Stage: gatewayInstance.State().String()})
	default:
		http.NotFound(w, r)
	}
}

func handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		slog.Warn("Could not parse multipart form", "error", err)
		http.Error(w, "Bad Request: could not parse upload", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Bad Request: missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		slog.Error("Failed to read upload body", "error", err, "filename", header.Filename)
		http.Error(w, "Internal Server Error: failed to read upload", http.StatusInternalServerError)
		return
	}

	doc := &models.SourceDocument{
		Filename:    header.Filename,
		ContentType: contentTypeFor(header.Filename, header.Header.Get("Content-Type")),
		Content:     content,
	}
	result, err := gatewayInstance.OnUpload(r.Context(), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.UploadResponse{Status: "success", SourceKey: result.SourceKey, PageCount: result.PageCount})
}

func handleRunOcr(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := gatewayInstance.OnRunOcr(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.RunOcrResponse{Status: "success", ShardCount: result.ShardCount, PageSegments: result.PageSegments})
}

func handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	transcript, err := gatewayInstance.OnDisplay(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.DisplayResponse{Status: "success", Transcript: transcript})
}

// contentTypeFor falls back to the filename extension when the part carries
// no usable content type.
func contentTypeFor(filename, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(path.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return declared
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var backendErr *models.BackendError
	switch {
	case errors.Is(err, models.ErrInvalidStage):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrAwaitTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.As(err, &backendErr):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		// Error is already logged with context in the services layer.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
	}
}
