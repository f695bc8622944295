package asynctask

import (
	"sort"
	"time"

	"go.jetify.com/typeid"
)

// DefaultJobRetries is the retry budget of a continuation job.
const DefaultJobRetries = 3

// NewJobID returns a new identifier for a continuation job.
func NewJobID() string {
	id, err := typeid.WithPrefix("job")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Job is a persisted continuation: it records how to re-enter a suspended
// execution. An empty Operation selects the canonical activity-execute
// operation.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	ExecutionID string    `json:"execution_id"`
	StepName    string    `json:"step_name"`
	Operation   string    `json:"operation,omitempty"`
	Retries     int       `json:"retries"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Copy returns a copy of the job.
func (j *Job) Copy() *Job {
	c := *j
	return &c
}

// Parked reports whether the job has exhausted its retries and waits for an
// operator.
func (j *Job) Parked() bool {
	return j.Retries <= 0
}

func sortedJobIDs(jobs map[string]*Job) []string {
	ids := make([]string, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
