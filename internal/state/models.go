package state

import "time"

// Search status values stored in job_search_state.
const (
	SearchPending   = "pending"
	SearchRunning   = "running"
	SearchCompleted = "completed"
	SearchFailed    = "failed"
)

// SearchState is the resumable progress of one long-running job search.
type SearchState struct {
	SearchID   string
	Query      string
	Results    []map[string]any // nil until the search produced results
	Status     string
	ErrorCount int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Checkpoint is a named snapshot of in-progress work state. Saving the
// same checkpoint id again replaces the prior snapshot.
type Checkpoint struct {
	CheckpointID string
	Operation    string
	StateData    map[string]any
	CreatedAt    time.Time
}
