package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "output/test-job/"

func testOrchestrator(store *fakeStore, annotator *fakeAnnotator, recorder JobRecorder) *Orchestrator {
	return NewOrchestratorWith(store, annotator, recorder, OrchestratorConfig{
		ProjectID:  "test-project",
		DocsBucket: "docs",
		MimeType:   "application/pdf",
		BatchSize:  2,
	})
}

func str(s string) *string { return &s }

// shardBytes builds one backend output shard; a nil entry is a page the
// backend found no text on.
func shardBytes(t *testing.T, pages ...*string) []byte {
	t.Helper()
	var shard models.ResultShard
	for _, p := range pages {
		if p == nil {
			shard.Responses = append(shard.Responses, models.PageResponse{})
			continue
		}
		shard.Responses = append(shard.Responses, models.PageResponse{
			FullTextAnnotation: &models.TextAnnotation{Text: *p},
		})
	}
	data, err := json.Marshal(shard)
	require.NoError(t, err)
	return data
}

func TestRunJob_MergesShardsInKeyOrder(t *testing.T) {
	store := newFakeStore()
	annotator := &fakeAnnotator{}
	orch := testOrchestrator(store, annotator, nil)

	store.objects["input/doc.pdf"] = []byte("%PDF-source")
	// The fake store lists in reverse key order; the transcript must still
	// come out in (shard-key, page-index) order.
	store.objects[testPrefix+"output-1-to-2.json"] = shardBytes(t, str("page one."), str("page two."))
	store.objects[testPrefix+"output-3-to-4.json"] = shardBytes(t, str("page three."), str("page four."))
	store.objects[testPrefix+"output-5-to-5.json"] = shardBytes(t, str("page five."))

	result, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "page one.page two.page three.page four.page five.", result.Text)
	assert.Equal(t, 3, result.ShardCount)
	assert.Equal(t, 5, result.PageSegments)
	assert.Equal(t, 1, annotator.submitCalls)

	// The source object is untouched and the destination prefix is purged.
	_, err = store.Get(context.Background(), "input/doc.pdf")
	assert.NoError(t, err)
	keys, err := store.List(context.Background(), testPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)

	// The transcript is persisted as a flat text object.
	persisted, err := store.Get(context.Background(), "transcripts/transcription.txt")
	require.NoError(t, err)
	assert.Equal(t, result.Text, string(persisted))
}

func TestRunJob_MissingAnnotationContributesEmptySegment(t *testing.T) {
	store := newFakeStore()
	orch := testOrchestrator(store, &fakeAnnotator{}, nil)

	store.objects[testPrefix+"output-1-to-3.json"] = shardBytes(t, str("alpha"), nil, str("gamma"))

	result, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Minute)
	require.NoError(t, err)

	// The blank page keeps its slot so segment count matches page count.
	assert.Equal(t, "alphagamma", result.Text)
	assert.Equal(t, 3, result.PageSegments)
}

func TestRunJob_SkipsShardThatFailsToParse(t *testing.T) {
	store := newFakeStore()
	orch := testOrchestrator(store, &fakeAnnotator{}, nil)

	store.objects[testPrefix+"output-1-to-2.json"] = shardBytes(t, str("first."))
	store.objects[testPrefix+"output-3-to-4.json"] = []byte("{this is not json")
	store.objects[testPrefix+"output-5-to-6.json"] = shardBytes(t, str("third."))

	result, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Minute)
	require.NoError(t, err)

	// The corrupt shard's contribution is dropped; merging continues.
	assert.Equal(t, "first.third.", result.Text)
	assert.Equal(t, 2, result.ShardCount)

	// Cleanup still covers the corrupt shard.
	keys, err := store.List(context.Background(), testPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRunJob_CleanupPurgesDestinationPrefix(t *testing.T) {
	store := newFakeStore()
	orch := testOrchestrator(store, &fakeAnnotator{}, nil)

	for _, key := range []string{"output-1", "output-2", "output-3", "output-4", "output-5"} {
		store.objects[testPrefix+key+".json"] = shardBytes(t, str(key))
	}

	_, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Minute)
	require.NoError(t, err)

	keys, err := store.List(context.Background(), testPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 5, store.deleteCalls)
}

func TestRunJob_CleanupErrorsDoNotFailTheJob(t *testing.T) {
	store := newFakeStore()
	orch := testOrchestrator(store, &fakeAnnotator{}, nil)

	store.objects[testPrefix+"output-1.json"] = shardBytes(t, str("one"))
	store.objects[testPrefix+"output-2.json"] = shardBytes(t, str("two"))
	store.failDelete[testPrefix+"output-1.json"] = true

	result, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "onetwo", result.Text)

	// The deletable shard is gone; the stuck one is merely logged.
	keys, err := store.List(context.Background(), testPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{testPrefix + "output-1.json"}, keys)
}

func TestRunJob_TimeoutLeavesPrefixUntouched(t *testing.T) {
	store := newFakeStore()
	annotator := &fakeAnnotator{awaitErrs: []error{models.ErrAwaitTimeout}}
	orch := testOrchestrator(store, annotator, nil)

	store.objects[testPrefix+"output-1.json"] = shardBytes(t, str("partial"))

	_, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Millisecond)
	require.ErrorIs(t, err, models.ErrAwaitTimeout)

	// No partial transcript, no cleanup: the remote job may still be
	// writing to the prefix.
	assert.Equal(t, 0, store.deleteCalls)
	keys, listErr := store.List(context.Background(), testPrefix)
	require.NoError(t, listErr)
	assert.Len(t, keys, 1)
	_, getErr := store.Get(context.Background(), "transcripts/transcription.txt")
	assert.ErrorIs(t, getErr, models.ErrNotFound)
}

func TestRunJob_BackendFailureSurfacesWithoutCleanup(t *testing.T) {
	store := newFakeStore()
	annotator := &fakeAnnotator{awaitErrs: []error{&models.BackendError{Detail: "internal annotator error"}}}
	recorder := newFakeRecorder()
	orch := testOrchestrator(store, annotator, recorder)

	store.objects[testPrefix+"output-1.json"] = shardBytes(t, str("partial"))

	_, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Minute)
	var backendErr *models.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "internal annotator error", backendErr.Detail)
	assert.Equal(t, 0, store.deleteCalls)

	// The job record captures the failure.
	updates := recorder.updates["job-1"]
	require.Len(t, updates, 1)
	assert.Equal(t, "FAILED", updates[0]["status"])
}

func TestCollect_RetryReentersAwaitWithoutResubmitting(t *testing.T) {
	store := newFakeStore()
	annotator := &fakeAnnotator{awaitErrs: []error{models.ErrAwaitTimeout}}
	orch := testOrchestrator(store, annotator, nil)

	store.objects[testPrefix+"output-1.json"] = shardBytes(t, str("done at last"))

	job, err := orch.Submit(context.Background(), "input/doc.pdf", testPrefix)
	require.NoError(t, err)

	_, err = orch.Collect(context.Background(), job, time.Millisecond)
	require.ErrorIs(t, err, models.ErrAwaitTimeout)

	// Same job, second wait succeeds; no duplicate submission happened.
	result, err := orch.Collect(context.Background(), job, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "done at last", result.Text)
	assert.Equal(t, 1, annotator.submitCalls)
	assert.Equal(t, 2, annotator.awaitCalls)
}

func TestSubmit_MintsUniqueDestinationPrefixes(t *testing.T) {
	store := newFakeStore()
	annotator := &fakeAnnotator{}
	orch := testOrchestrator(store, annotator, nil)

	first, err := orch.Submit(context.Background(), "input/doc.pdf", "")
	require.NoError(t, err)
	second, err := orch.Submit(context.Background(), "input/doc.pdf", "")
	require.NoError(t, err)

	assert.NotEqual(t, first.DestinationPrefix, second.DestinationPrefix)
	assert.True(t, len(first.DestinationPrefix) > len("output/"))
	assert.Contains(t, first.DestinationPrefix, "output/doc-")
	assert.Contains(t, annotator.lastDestURI, "gs://docs/output/doc-")
}

func TestRunJob_RecordsLifecycle(t *testing.T) {
	store := newFakeStore()
	recorder := newFakeRecorder()
	orch := testOrchestrator(store, &fakeAnnotator{}, recorder)

	store.objects[testPrefix+"output-1.json"] = shardBytes(t, str("hello"), str("world"))

	_, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Minute)
	require.NoError(t, err)

	rec := recorder.records["job-1"]
	require.NotNil(t, rec)
	assert.Equal(t, "OCR_RUNNING", rec.Status)
	assert.Equal(t, "doc.pdf", rec.OriginalFilename)
	assert.Equal(t, testPrefix, rec.DestinationPrefix)

	updates := recorder.updates["job-1"]
	require.Len(t, updates, 1)
	assert.Equal(t, "COMPLETE", updates[0]["status"])
	assert.Equal(t, 1, updates[0]["shardCount"])
	assert.Equal(t, 2, updates[0]["pageSegments"])
}

func TestRunJob_ShardFetchFailureAbortsTheJob(t *testing.T) {
	store := newFakeStore()
	orch := testOrchestrator(store, &fakeAnnotator{}, nil)

	store.objects[testPrefix+"output-1.json"] = shardBytes(t, str("one"))
	store.objects[testPrefix+"output-2.json"] = shardBytes(t, str("two"))
	store.failGet[testPrefix+"output-2.json"] = true

	// A shard the store cannot serve is not a parse failure; the job
	// aborts with no transcript and no cleanup.
	_, err := orch.RunJob(context.Background(), "input/doc.pdf", testPrefix, time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrAwaitTimeout)
	assert.Equal(t, 0, store.deleteCalls)
	_, getErr := store.Get(context.Background(), "transcripts/transcription.txt")
	assert.ErrorIs(t, getErr, models.ErrNotFound)
}
