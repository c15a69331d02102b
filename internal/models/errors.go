package models

import (
	"errors"
	"fmt"
)

// Job-level failures abort the run and leave the pipeline stage unadvanced
// so the caller can retry; shard-level failures are recovered in place and
// logged by the orchestrator.

// ErrNotFound is reported by blob store adapters for missing objects.
var ErrNotFound = errors.New("object not found")

// ErrAwaitTimeout is reported when the backend does not finish within the
// wait budget. The remote operation may still be running; retrying re-enters
// the wait on the same operation.
var ErrAwaitTimeout = errors.New("timed out waiting for OCR completion")

// ErrInvalidStage is returned when a pipeline action is invoked outside the
// stage that permits it. No side effect has occurred.
var ErrInvalidStage = errors.New("action not valid in current pipeline stage")

// BackendError reports a remote annotation operation that finished with an
// error status.
type BackendError struct {
	Detail string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("OCR backend reported failure: %s", e.Detail)
}
