package pipeline

import (
	"context"
	"fmt"
	"time"

	"grabbit/internal/platform/database"
	"grabbit/internal/platform/extract"
	"grabbit/internal/platform/hosts"
	"grabbit/internal/quota"
)

// progressInterval is the minimum wall time between progress emissions for
// one job. The progress slot absorbs faster writers; the reporter coalesces.
const progressInterval = 2 * time.Second

// URLResult is one URL's terminal outcome within a job.
type URLResult struct {
	Index     int
	URL       string
	Host      hosts.Host
	Status    string // completed | failed | cancelled
	ErrorKind string // empty on success
	Reason    string // one-line user-visible reason, empty on success
	Size      int64
	Counted   bool // counts against the daily ledger
}

// Summary aggregates a finished job for the user-facing report.
type Summary struct {
	Succeeded int
	Failed    int
	Cancelled int
	Results   []URLResult
}

// Summarize folds per-URL results into counts.
func Summarize(results []URLResult) Summary {
	s := Summary{Results: results}
	for _, r := range results {
		switch r.Status {
		case "completed":
			s.Succeeded++
		case "cancelled":
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}

// Sink receives everything the pipeline emits. Implementations must not
// block; OperatorAlert in particular is fire-and-forget.
type Sink interface {
	Progress(job *Job, p Progress)
	Outcome(job *Job, summary Summary)
	OperatorAlert(kind, detail string)
}

// Uploader delivers one finished artifact to the transport. filename is the
// user-visible name for the delivered file; path is where it lives on disk.
// Failures should come back as *UploadError so the retry matrix can classify
// them.
type Uploader interface {
	Upload(ctx context.Context, job *Job, path, filename string) error
}

// Resolver probes URLs for metadata and fetches media. *extract.Extractor
// implements it.
type Resolver interface {
	Probe(ctx context.Context, rawURL, cookieFile string) (*extract.Metadata, error)
	Fetch(ctx context.Context, spec extract.FetchSpec) (string, error)
}

// Recorder persists per-URL outcomes. *quota.Engine implements it.
type Recorder interface {
	RecordOutcome(o quota.Outcome) error
}

// Policies is the frozen policy snapshot a job runs under.
type Policies struct {
	Config *database.Configuration
	Global *database.GlobalSettings
	Logo   *database.LogoSettings
	Limits *database.GeneralLimits
	Audio  *database.AudioSettings
}

// PolicyProvider resolves the current policy snapshot. The app backs this
// with a short-TTL cache; jobs call it once at admission.
type PolicyProvider interface {
	Policies() (*Policies, error)
}

// UploadKind classifies a transport delivery failure.
type UploadKind string

const (
	UploadTimeout  UploadKind = "upload_timeout"
	UploadNetwork  UploadKind = "upload_network"
	UploadRejected UploadKind = "upload_rejected"
)

// Retriable reports whether the pipeline may retry this upload failure.
func (k UploadKind) Retriable() bool {
	return k == UploadTimeout || k == UploadNetwork
}

// UploadError is a classified delivery failure from the transport.
type UploadError struct {
	Kind UploadKind
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload (%s): %v", e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
