package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// fakeStore is an in-memory BlobStore.
type fakeStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	putCalls    int
	deleteCalls int
	failGet     map[string]bool
	failDelete  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:    make(map[string][]byte),
		failGet:    make(map[string]bool),
		failDelete: make(map[string]bool),
	}
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	// Deliberately reversed: the backend does not guarantee listing order,
	// so the orchestrator must sort before merging.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet[key] {
		return nil, errors.New("store unavailable")
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, models.ErrNotFound)
	}
	return data, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.failDelete[key] {
		return errors.New("store unavailable")
	}
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("%s: %w", key, models.ErrNotFound)
	}
	delete(s.objects, key)
	return nil
}

// fakeAnnotator scripts the backend's submit/await behavior.
type fakeAnnotator struct {
	mu          sync.Mutex
	submitCalls int
	awaitCalls  int
	submitErr   error
	awaitErrs   []error // consumed one per Await; exhausted means Done
	lastDestURI string
	onSubmit    func(destinationURI string)
}

func (a *fakeAnnotator) Submit(ctx context.Context, sourceURI, destinationURI, mimeType string, batchSize int) (models.JobHandle, error) {
	a.mu.Lock()
	a.submitCalls++
	a.lastDestURI = destinationURI
	n := a.submitCalls
	err := a.submitErr
	cb := a.onSubmit
	a.mu.Unlock()

	if err != nil {
		return "", err
	}
	if cb != nil {
		cb(destinationURI)
	}
	return models.JobHandle(fmt.Sprintf("operations/fake-%d", n)), nil
}

func (a *fakeAnnotator) Await(ctx context.Context, handle models.JobHandle, timeout time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.awaitCalls++
	if len(a.awaitErrs) == 0 {
		return nil
	}
	err := a.awaitErrs[0]
	a.awaitErrs = a.awaitErrs[1:]
	return err
}

// fakeRecorder captures job records in memory.
type fakeRecorder struct {
	mu      sync.Mutex
	nextID  int
	records map[string]*models.JobRecord
	updates map[string][]map[string]any
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		records: make(map[string]*models.JobRecord),
		updates: make(map[string][]map[string]any),
	}
}

func (r *fakeRecorder) Create(ctx context.Context, rec *models.JobRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("job-%d", r.nextID)
	copied := *rec
	r.records[id] = &copied
	return id, nil
}

func (r *fakeRecorder) Update(ctx context.Context, id string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return fmt.Errorf("no record %s", id)
	}
	r.updates[id] = append(r.updates[id], fields)
	return nil
}
