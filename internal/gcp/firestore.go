package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// JobStore persists job lifecycle records in Firestore. It centralizes
// record creation and status updates for all services.
type JobStore struct {
	client     *firestore.Client
	collection string
}

// NewJobStore creates a job store over the given collection.
func NewJobStore(ctx context.Context, projectID, collection string) (*JobStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection must be provided to create a job store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &JobStore{client: client, collection: collection}, nil
}

// Create adds a new job record and returns its document ID.
func (s *JobStore) Create(ctx context.Context, rec *models.JobRecord) (string, error) {
	docRef, _, err := s.client.Collection(s.collection).Add(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}
	return docRef.ID, nil
}

// Update applies field updates to an existing job record.
func (s *JobStore) Update(ctx context.Context, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update job record %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *JobStore) Close() error {
	return s.client.Close()
}
