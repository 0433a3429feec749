package pipeline

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/disgoorg/snowflake/v2"
)

// State is a job lifecycle phase.
type State string

const (
	StateQueued         State = "queued"
	StateResolving      State = "resolving"
	StateFetching       State = "fetching"
	StatePostProcessing State = "post-processing"
	StateUploading      State = "uploading"
	StateDone           State = "done"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Mode is the user's delivery selection.
type Mode struct {
	Audio  bool
	Height int    // video ceiling (360/720/1080)
	Codec  string // audio codec ("mp3"/"m4a")
}

// Label renders the mode for records and summaries.
func (m Mode) Label() string {
	if m.Audio {
		return "audio"
	}
	return "video"
}

// Quality is the quality column of a download record.
func (m Mode) Quality() string {
	if m.Audio {
		return m.Codec
	}
	return strconv.Itoa(m.Height)
}

// Progress is a lock-free snapshot of where a job is.
type Progress struct {
	CompletedURLs int
	TotalURLs     int
	Fraction      float64 // current URL, [0,1]
	Phase         State
}

// Job is one user request, alive from admission to terminal state.
type Job struct {
	ID        string
	Owner     snowflake.ID
	Channel   snowflake.ID // delivery destination
	Username  string
	URLs []string
	Mode Mode

	// Workspace is created lazily when the first URL passes admission and
	// stays empty for jobs that never fetch. Touched only by the job's own
	// goroutine.
	Workspace string

	// policies resolved once at admission; the job finishes under these
	// even if the operator changes them mid-flight
	policies *Policies

	// creditConsumed: at most one overlay-exemption credit per job, tracked
	// by the single goroutine running the job
	creditConsumed bool

	ctx       context.Context
	cancelCtx context.CancelFunc
	cancelled atomic.Bool

	state    atomic.Value // State
	progress atomic.Pointer[Progress]
}

func newJob(id string, owner, channel snowflake.ID, username string, urls []string, mode Mode, pol *Policies) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        id,
		Owner:     owner,
		Channel:   channel,
		Username:  username,
		URLs:      urls,
		Mode:      mode,
		policies:  pol,
		ctx:       ctx,
		cancelCtx: cancel,
	}
	j.state.Store(StateQueued)
	j.progress.Store(&Progress{TotalURLs: len(urls), Phase: StateQueued})
	return j
}

// Context is cancelled when the job is cancelled; subprocesses run under it.
func (j *Job) Context() context.Context { return j.ctx }

// Cancel flips the cancellation flag and aborts any running subprocess.
// Idempotent.
func (j *Job) Cancel() {
	if j.cancelled.CompareAndSwap(false, true) {
		j.cancelCtx()
	}
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// State returns the current lifecycle phase.
func (j *Job) State() State { return j.state.Load().(State) }

func (j *Job) setState(s State) { j.state.Store(s) }

// Snapshot returns the most recent progress. Lock-free.
func (j *Job) Snapshot() Progress { return *j.progress.Load() }

// setProgress publishes a new progress snapshot into the slot. The reporter
// coalesces reads; writers never block.
func (j *Job) setProgress(completed int, fraction float64, phase State) {
	j.progress.Store(&Progress{
		CompletedURLs: completed,
		TotalURLs:     len(j.URLs),
		Fraction:      fraction,
		Phase:         phase,
	})
}
