package pipeline

import (
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

var (
	ErrJobUnknown    = errors.New("no such job")
	ErrJobInProgress = errors.New("a job with this id is already running")
)

// Registry maps (owner, correlation id) to live jobs. Process-local; a
// correlation id is unique per owner while its job is alive.
type Registry struct {
	jobs *xsync.Map[string, *Job]
}

func NewRegistry() *Registry {
	return &Registry{jobs: xsync.NewMap[string, *Job]()}
}

func jobKey(owner snowflake.ID, correlationID string) string {
	return fmt.Sprintf("%s:%s", owner, correlationID)
}

// Add inserts the job, failing with ErrJobInProgress on a duplicate
// (owner, correlation id).
func (r *Registry) Add(j *Job) error {
	if _, loaded := r.jobs.LoadOrStore(jobKey(j.Owner, j.ID), j); loaded {
		return ErrJobInProgress
	}
	return nil
}

// Get returns the live job for (owner, correlation id).
func (r *Registry) Get(owner snowflake.ID, correlationID string) (*Job, error) {
	j, ok := r.jobs.Load(jobKey(owner, correlationID))
	if !ok {
		return nil, ErrJobUnknown
	}
	return j, nil
}

// Remove drops the job at terminal transition.
func (r *Registry) Remove(j *Job) {
	r.jobs.Delete(jobKey(j.Owner, j.ID))
}

// Cancel requests cancellation of a live job. Idempotent; cancelling an
// unknown (already terminal) job returns ErrJobUnknown.
func (r *Registry) Cancel(owner snowflake.ID, correlationID string) error {
	j, err := r.Get(owner, correlationID)
	if err != nil {
		return err
	}
	j.Cancel()
	return nil
}

// Active returns a snapshot of all live jobs.
func (r *Registry) Active() []*Job {
	var out []*Job
	r.jobs.Range(func(_ string, j *Job) bool {
		out = append(out, j)
		return true
	})
	return out
}

// CancelAll requests cancellation of every live job (shutdown path).
func (r *Registry) CancelAll() {
	r.jobs.Range(func(_ string, j *Job) bool {
		j.Cancel()
		return true
	})
}

// Len returns the number of live jobs.
func (r *Registry) Len() int { return r.jobs.Size() }
