package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_RecordsInputObjects(t *testing.T) {
	recorder := newFakeRecorder()
	w := NewUploadWatcherWith(recorder, "input")

	err := w.Process(context.Background(), GCSEvent{Bucket: "docs", Name: "input/doc.pdf"})
	require.NoError(t, err)

	rec := recorder.records["job-1"]
	require.NotNil(t, rec)
	assert.Equal(t, "UPLOADED", rec.Status)
	assert.Equal(t, "input/doc.pdf", rec.SourceKey)
	assert.Equal(t, "doc.pdf", rec.OriginalFilename)
}

func TestWatcher_IgnoresObjectsOutsideInputPrefix(t *testing.T) {
	recorder := newFakeRecorder()
	w := NewUploadWatcherWith(recorder, "input")

	// Shards and transcripts finalize in the same bucket; they must not
	// produce upload acknowledgments.
	require.NoError(t, w.Process(context.Background(), GCSEvent{Bucket: "docs", Name: "output/doc-1/output-1.json"}))
	require.NoError(t, w.Process(context.Background(), GCSEvent{Bucket: "docs", Name: "transcripts/transcription.txt"}))
	require.NoError(t, w.Process(context.Background(), GCSEvent{Bucket: "docs", Name: "inputother/doc.pdf"}))

	assert.Empty(t, recorder.records)
}
