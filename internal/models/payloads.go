package models

// These structs define the JSON payloads for HTTP requests and responses
// between the UI shell and the ocr-gateway function.

// UploadResponse is returned once the source document is durably stored.
type UploadResponse struct {
	Status    string `json:"status"`
	SourceKey string `json:"sourceKey"`
	PageCount int    `json:"pageCount,omitempty"`
}

// RunOcrResponse is returned once the transcript has been assembled and the
// intermediate shards purged.
type RunOcrResponse struct {
	Status       string `json:"status"`
	ShardCount   int    `json:"shardCount"`
	PageSegments int    `json:"pageSegments"`
}

// DisplayResponse carries the final transcript back to the UI shell.
type DisplayResponse struct {
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
}

// StateResponse exposes the current pipeline stage for button-gating.
type StateResponse struct {
	Stage string `json:"stage"`
}
