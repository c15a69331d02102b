package models

import "time"

// SourceDocument identifies an uploaded file before it is committed to the
// store. It is owned by the caller until handed to the pipeline and is not
// mutated afterwards.
type SourceDocument struct {
	Filename    string
	ContentType string
	Content     []byte
}

// JobHandle is the opaque token for an in-flight remote batch annotation
// operation. Only the backend adapter that minted it knows its shape; it is
// never reused across jobs.
type JobHandle string

// ResultShard is one JSON output object written by the OCR backend. Each
// shard covers a contiguous range of pages of the input document.
type ResultShard struct {
	Responses []PageResponse `json:"responses"`
}

// PageResponse is a single page's annotation result. FullTextAnnotation is
// nil for pages where the backend detected no text, which is not an error.
type PageResponse struct {
	FullTextAnnotation *TextAnnotation `json:"fullTextAnnotation,omitempty"`
}

// TextAnnotation carries the recognized text for one page.
type TextAnnotation struct {
	Text string `json:"text"`
}

// Text returns the page's recognized text, or "" when no text was detected.
func (p PageResponse) Text() string {
	if p.FullTextAnnotation == nil {
		return ""
	}
	return p.FullTextAnnotation.Text
}

// JobRecord is the main record for one OCR job in Firestore. It tracks the
// job's status and metadata for traceability; the transcript itself lives
// in the object store.
type JobRecord struct {
	OriginalFilename  string    `firestore:"originalFilename,omitempty"`
	SourceKey         string    `firestore:"sourceKey,omitempty"`
	DestinationPrefix string    `firestore:"destinationPrefix,omitempty"`
	OperationName     string    `firestore:"operationName,omitempty"`
	Status            string    `firestore:"status,omitempty"`
	ErrorDetails      string    `firestore:"errorDetails,omitempty"`
	PageCount         int       `firestore:"pageCount,omitempty"`
	ShardCount        int       `firestore:"shardCount,omitempty"`
	PageSegments      int       `firestore:"pageSegments,omitempty"`
	CreatedAt         time.Time `firestore:"createdAt,omitempty"`
}
