// Package pipeline orchestrates one user request from URL list to delivered
// artifact: host detection, cookie selection, metadata probe, admission,
// fetch, overlay composition, size normalization, upload, and accounting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Data-Corruption/lmdb-go/lmdb"
	"github.com/Data-Corruption/lmdb-go/wrap"
	"github.com/Data-Corruption/stdx/xlog"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"grabbit/internal/platform/database"
	"grabbit/internal/platform/extract"
	"grabbit/internal/platform/format"
	"grabbit/internal/platform/hosts"
	"grabbit/internal/platform/vault"
	"grabbit/internal/quota"
	"grabbit/pkg/overlay"
	"grabbit/pkg/sizecap"
	"grabbit/pkg/subproc"
)

var ErrNoURLs = errors.New("no urls to process")

const (
	maxFetchAttempts  = 3 // initial try + 2 retries for retriable kinds
	maxUploadAttempts = 3
	retryBaseDelay    = 2 * time.Second
)

// Pipeline runs jobs. One instance per process.
type Pipeline struct {
	db         *wrap.DB
	registry   *Registry
	vault      *vault.Vault
	extractor  Resolver
	compositor *overlay.Compositor
	engine     Recorder
	policies   PolicyProvider
	uploader   Uploader
	sink       Sink

	// caps concurrent transcoder subprocesses process-wide; each one
	// saturates several cores
	transcodeSem *semaphore.Weighted

	// live job goroutines; the shutdown path waits on this after
	// cancelling the registry
	jobs sync.WaitGroup

	ffmpeg      *subproc.Runner
	scratchRoot string
	now         func() time.Time
}

// Options wires a Pipeline. All fields are required except Now.
type Options struct {
	DB          *wrap.DB
	Registry    *Registry
	Vault       *vault.Vault
	Extractor   Resolver
	Compositor  *overlay.Compositor
	Engine      Recorder
	Policies    PolicyProvider
	Uploader    Uploader
	Sink        Sink
	Workers     int // transcoder pool size
	ScratchRoot string
	Now         func() time.Time
}

func New(opts Options) (*Pipeline, error) {
	ffmpeg, err := subproc.New("ffmpeg")
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		db:           opts.DB,
		registry:     opts.Registry,
		vault:        opts.Vault,
		extractor:    opts.Extractor,
		compositor:   opts.Compositor,
		engine:       opts.Engine,
		policies:     opts.Policies,
		uploader:     opts.Uploader,
		sink:         opts.Sink,
		transcodeSem: semaphore.NewWeighted(int64(opts.Workers)),
		ffmpeg:       ffmpeg,
		scratchRoot:  opts.ScratchRoot,
		now:          opts.Now,
	}, nil
}

// Registry exposes the live-job registry (cancel, snapshot, shutdown).
func (p *Pipeline) Registry() *Registry { return p.registry }

// Submit admits one request and starts its job. The policy snapshot is
// resolved here; the job finishes under it. correlationID may be empty, in
// which case one is generated.
func (p *Pipeline) Submit(ctx context.Context, owner, channel snowflake.ID, username string, urls []string, mode Mode, correlationID string) (*Job, error) {
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	pol, err := p.policies.Policies()
	if err != nil {
		return nil, fmt.Errorf("resolve policies: %w", err)
	}
	if max := pol.Config.MaxURLsPerMessage; max > 0 && len(urls) > max {
		urls = urls[:max]
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	job := newJob(correlationID, owner, channel, username, urls, mode, pol)
	if err := p.registry.Add(job); err != nil {
		return nil, err
	}

	xlog.Infof(ctx, "job %s: submitted by %s, %d url(s), mode=%s", job.ID, owner, len(urls), mode.Label())
	p.jobs.Add(1)
	go func() {
		defer p.jobs.Done()
		p.run(job)
	}()
	return job, nil
}

// Wait blocks until every submitted job's goroutine has exited. The shutdown
// sequence is Registry().CancelAll() then Wait(), so cancelled jobs still
// record their outcomes and sweep their workspaces.
func (p *Pipeline) Wait() { p.jobs.Wait() }

// ensureWorkspace creates the job's scratch dir the first time a URL needs
// one. A job whose every URL is rejected before fetch never touches the
// filesystem.
func (p *Pipeline) ensureWorkspace(job *Job) error {
	if job.Workspace != "" {
		return nil
	}
	dir, err := os.MkdirTemp(p.scratchRoot, "job-")
	if err != nil {
		return err
	}
	job.Workspace = dir
	return nil
}

// run owns the job from queued to terminal. Workspace removal and registry
// removal happen on every exit path.
func (p *Pipeline) run(job *Job) {
	reporterDone := make(chan struct{})
	stopReporter := make(chan struct{})
	go p.report(job, stopReporter, reporterDone)

	results := make([]URLResult, 0, len(job.URLs))
	for i, url := range job.URLs {
		if job.Cancelled() {
			// remaining URLs never start: marked cancelled, not counted
			for j := i; j < len(job.URLs); j++ {
				results = append(results, URLResult{Index: j, URL: job.URLs[j], Status: "cancelled"})
			}
			break
		}
		results = append(results, p.processURL(job, i, url))
		job.setProgress(i+1, 0, job.State())
	}

	summary := Summarize(results)
	switch {
	case job.Cancelled():
		job.setState(StateCancelled)
	case summary.Succeeded == 0 && summary.Failed > 0:
		job.setState(StateFailed)
	default:
		job.setState(StateDone)
	}
	job.setProgress(len(job.URLs), 1, job.State())

	close(stopReporter)
	<-reporterDone

	for _, r := range results {
		// Only URLs that passed admission mutate quota state; earlier
		// failures and never-started cancels live in the summary alone.
		if !r.Counted {
			continue
		}
		err := p.engine.RecordOutcome(quota.Outcome{
			JobID:    job.ID,
			URLIndex: r.Index,
			Counted:  r.Counted,
			Record: database.DownloadRecord{
				UserID:    job.Owner,
				Platform:  r.Host.String(),
				Mode:      job.Mode.Label(),
				Quality:   job.Mode.Quality(),
				Status:    r.Status,
				URL:       r.URL,
				Size:      r.Size,
				ErrorKind: r.ErrorKind,
				Timestamp: p.now(),
				Day:       database.Day(p.now()),
			},
		})
		if err != nil {
			xlog.Errorf(context.Background(), "job %s: record outcome url %d: %v", job.ID, r.Index, err)
		}
	}

	if len(results) > 0 && summary.Succeeded == 0 && summary.Cancelled == 0 {
		p.sink.OperatorAlert("job_failed", fmt.Sprintf("job %s: all %d url(s) failed for %s", job.ID, len(results), job.Username))
	}

	if job.Workspace != "" {
		if err := os.RemoveAll(job.Workspace); err != nil {
			p.sink.OperatorAlert("workspace_io_error", fmt.Sprintf("job %s: workspace removal: %v", job.ID, err))
		}
	}
	p.registry.Remove(job)
	p.sink.Outcome(job, summary)
}

// report forwards coalesced progress snapshots to the sink, at most one per
// interval, until stopped.
func (p *Pipeline) report(job *Job, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var last Progress
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cur := job.Snapshot()
			if cur != last {
				last = cur
				p.sink.Progress(job, cur)
			}
		}
	}
}

// processURL runs the per-URL sub-pipeline. Cookie plaintext, when a slot is
// linked and populated, exists only for the duration of this call.
func (p *Pipeline) processURL(job *Job, idx int, url string) URLResult {
	host := hosts.Detect(url)
	if host == hosts.HostUnknown {
		return failURL(idx, url, host, "HostUnsupported", "this site is not supported")
	}
	if !job.policies.Global.HostAllowed(host.String()) {
		return failURL(idx, url, host, "HostDisabled", fmt.Sprintf("%s downloads are currently disabled", host))
	}

	slot, linked := p.vault.Linkage().SlotFor(host)
	if linked && p.vault.Has(slot.Name) {
		var res URLResult
		err := p.vault.WithPlaintext(slot.Name, func(cookieFile string) error {
			res = p.fetchAndDeliver(job, idx, url, host, cookieFile)
			return nil
		})
		if err == nil {
			return res
		}
		// Decrypt failure: ciphertext is kept for diagnosis, the fetch
		// proceeds without cookies, the operator hears about it.
		p.sink.OperatorAlert("cookie_decrypt_failed", fmt.Sprintf("slot %s: %v", slot.Name, err))
	}
	return p.fetchAndDeliver(job, idx, url, host, "")
}

func failURL(idx int, url string, host hosts.Host, kind, reason string) URLResult {
	return URLResult{Index: idx, URL: url, Host: host, Status: "failed", ErrorKind: kind, Reason: reason}
}

// fetchAndDeliver is the probe → admit → fetch → post-process → upload chain
// for one URL. Results with Counted=false never touched quota state.
func (p *Pipeline) fetchAndDeliver(job *Job, idx int, url string, host hosts.Host, cookieFile string) URLResult {
	ctx := job.Context()
	job.setState(StateResolving)
	job.setProgress(idx, 0, StateResolving)

	meta, err := p.extractor.Probe(ctx, url, cookieFile)
	if err != nil {
		if job.Cancelled() {
			return URLResult{Index: idx, URL: url, Host: host, Status: "cancelled"}
		}
		kind, reason := classifyExtract(err)
		return failURL(idx, url, host, kind, reason)
	}

	user, err := p.viewUser(job.Owner)
	if err != nil {
		xlog.Errorf(ctx, "job %s: load user: %v", job.ID, err)
		return failURL(idx, url, host, "Internal", "something went wrong, try again later")
	}
	verdict := quota.Admit(quota.AdmitRequest{
		User:        user,
		AudioMode:   job.Mode.Audio,
		DurationSec: meta.Duration,
		Limits:      job.policies.Limits,
		Audio:       job.policies.Audio,
		Now:         p.now(),
	})
	if !verdict.Allowed {
		return failURL(idx, url, host, "QuotaDenied:"+string(verdict.Kind), verdict.Detail)
	}

	var sel format.Selection
	if job.Mode.Audio {
		sel, err = format.SelectAudio(meta, job.Mode.Codec)
	} else {
		sel, err = format.SelectVideo(meta, job.Mode.Height)
	}
	if err != nil {
		return failURL(idx, url, host, "FormatUnavailable", "no downloadable format matches your selection")
	}

	if err := p.ensureWorkspace(job); err != nil {
		xlog.Errorf(ctx, "job %s: create workspace: %v", job.ID, err)
		p.sink.OperatorAlert("workspace_io_error", fmt.Sprintf("job %s: %v", job.ID, err))
		return failURL(idx, url, host, "WorkspaceIoError", "something went wrong, try again later")
	}

	// Admission passed and the fetch starts: from here the URL counts.
	path, fetchErr := p.fetchWithRetry(job, idx, url, cookieFile, sel)
	if fetchErr != nil {
		if job.Cancelled() {
			return URLResult{Index: idx, URL: url, Host: host, Status: "cancelled", Counted: true}
		}
		kind, reason := classifyExtract(fetchErr)
		r := failURL(idx, url, host, kind, reason)
		r.Counted = true
		return r
	}
	defer removeArtifact(path)

	if !job.Mode.Audio {
		path = p.applyOverlay(job, user, path)
	} else if sel.NeedsTranscode {
		path = p.transcodeAudio(job, path, job.Mode.Codec)
	}

	path = p.enforceCeiling(job, path)

	if job.Cancelled() {
		return URLResult{Index: idx, URL: url, Host: host, Status: "cancelled", Counted: true}
	}

	size := fileSize(path)
	// Delivered under the media's own title; the workspace stem stays
	// index-based so same-title URLs in one job never collide.
	filename := extract.SanitizeTitle(meta.Title) + filepath.Ext(path)
	if err := p.uploadWithRetry(job, path, filename); err != nil {
		if job.Cancelled() {
			return URLResult{Index: idx, URL: url, Host: host, Status: "cancelled", Counted: true}
		}
		kind, reason := classifyUpload(err)
		r := failURL(idx, url, host, kind, reason)
		r.Counted = true
		return r
	}

	return URLResult{Index: idx, URL: url, Host: host, Status: "completed", Size: size, Counted: true}
}

// fetchWithRetry runs the extractor, retrying timeout and network failures
// with exponential backoff. Progress flows into the job's slot on every hook
// call; the reporter coalesces.
func (p *Pipeline) fetchWithRetry(job *Job, idx int, url, cookieFile string, sel format.Selection) (string, error) {
	ctx := job.Context()
	job.setState(StateFetching)

	spec := extract.FetchSpec{
		URL:        url,
		Selector:   sel.Selector,
		CookieFile: cookieFile,
		Dir:        job.Workspace,
		Stem:       fmt.Sprintf("u%d", idx),
		OnProgress: func(frac float64) {
			job.setProgress(idx, frac, StateFetching)
		},
	}

	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		path, err := p.extractor.Fetch(ctx, spec)
		if err == nil {
			return path, nil
		}
		lastErr = err

		var xe *extract.Error
		if job.Cancelled() || !errors.As(err, &xe) || !xe.Kind.Retriable() {
			return "", err
		}
		if attempt < maxFetchAttempts {
			xlog.Warnf(ctx, "job %s: fetch attempt %d failed (%s), retrying", job.ID, attempt, xe.Kind)
			if !sleepCtx(ctx, retryBaseDelay<<(attempt-1)) {
				return "", err
			}
		}
	}
	return "", lastErr
}

// applyOverlay decides between composing, consuming a credit, and doing
// nothing. The credit-decrement path is authoritative: a targeted user with
// credits gets one credit consumed (once per job) and no overlay; the overlay
// is composed only when credits are zero. On composition failure the source
// is delivered and the operator alerted.
func (p *Pipeline) applyOverlay(job *Job, user *database.User, src string) string {
	ctx := job.Context()
	logo := job.policies.Logo
	if !logo.Targets(user.Paid(p.now())) || logo.AssetPath == "" {
		return src
	}

	if user.OverlayCredits > 0 {
		if !job.creditConsumed {
			job.creditConsumed = true
			if _, err := database.UpsertUser(p.db, job.Owner, func(u *database.User) error {
				if u.OverlayCredits > 0 {
					u.OverlayCredits--
				}
				return nil
			}); err != nil {
				xlog.Errorf(ctx, "job %s: consume overlay credit: %v", job.ID, err)
			} else {
				xlog.Infof(ctx, "job %s: overlay credit consumed, %d left", job.ID, user.OverlayCredits-1)
			}
		}
		return src
	}
	if job.creditConsumed {
		return src
	}

	job.setState(StatePostProcessing)
	if err := p.transcodeSem.Acquire(ctx, 1); err != nil {
		return src
	}
	defer p.transcodeSem.Release(1)

	out, err := p.compositor.Compose(ctx, src, overlay.Params{
		AssetPath: logo.AssetPath,
		Position:  overlay.ParsePosition(logo.Position),
		Animation: overlay.ParseAnimation(logo.Animation),
		SizePx:    logo.SizePx,
		Opacity:   logo.OpacityPercent,
	})
	if err != nil {
		// Source is intact per the compositor contract; deliver it as-is.
		p.sink.OperatorAlert("composition_failure", fmt.Sprintf("job %s: %v", job.ID, err))
		xlog.Errorf(ctx, "job %s: composition failed, delivering source: %v", job.ID, err)
		return src
	}
	return out
}

// transcodeAudio re-encodes the fetched audio into the target codec. Best
// effort: on failure the original file is delivered.
func (p *Pipeline) transcodeAudio(job *Job, src, codec string) string {
	ctx := job.Context()
	job.setState(StatePostProcessing)
	if err := p.transcodeSem.Acquire(ctx, 1); err != nil {
		return src
	}
	defer p.transcodeSem.Release(1)

	var out string
	var args []string
	switch codec {
	case "mp3":
		out = src + ".mp3"
		args = []string{"-y", "-i", src, "-vn", "-c:a", "libmp3lame", "-b:a", "192k", out}
	default: // m4a
		out = src + ".m4a"
		args = []string{"-y", "-i", src, "-vn", "-c:a", "aac", "-b:a", "192k", out}
	}

	res, err := p.ffmpeg.Run(ctx, args...)
	if err != nil {
		xlog.Warnf(ctx, "job %s: audio transcode to %s failed, delivering original: %v (%s)", job.ID, codec, err, res.Output)
		_ = os.Remove(out)
		return src
	}
	return out
}

// enforceCeiling hands oversized files to the size normalizer. Best effort:
// the smallest produced attempt is delivered even when it still exceeds the
// ceiling.
func (p *Pipeline) enforceCeiling(job *Job, src string) string {
	ceiling := job.policies.Config.DeliveryCeilingBytes
	if ceiling <= 0 || fileSize(src) <= ceiling {
		return src
	}
	ctx := job.Context()
	job.setState(StatePostProcessing)
	if err := p.transcodeSem.Acquire(ctx, 1); err != nil {
		return src
	}
	defer p.transcodeSem.Release(1)

	res, err := sizecap.Normalize(ctx, src, ceiling, 0)
	if err != nil {
		xlog.Warnf(ctx, "job %s: size normalize failed: %v", job.ID, err)
		return src
	}
	if !res.Fits {
		xlog.Warnf(ctx, "job %s: best effort after %d attempts is %d bytes (ceiling %d)", job.ID, res.Attempts, res.Size, ceiling)
	}
	return res.Path
}

// uploadWithRetry delivers the artifact, retrying timeout and network kinds
// with exponential backoff.
func (p *Pipeline) uploadWithRetry(job *Job, path, filename string) error {
	ctx := job.Context()
	job.setState(StateUploading)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		err := p.uploader.Upload(ctx, job, path, filename)
		if err == nil {
			return nil
		}
		lastErr = err

		var ue *UploadError
		if job.Cancelled() || !errors.As(err, &ue) || !ue.Kind.Retriable() {
			return err
		}
		if attempt < maxUploadAttempts {
			xlog.Warnf(ctx, "job %s: upload attempt %d failed (%s), retrying", job.ID, attempt, ue.Kind)
			if !sleepCtx(ctx, retryBaseDelay<<(attempt-1)) {
				return err
			}
		}
	}
	return lastErr
}

// removeArtifact unlinks the fetched file so disk usage stays bounded across
// a multi-URL job. Derived intermediates go with the workspace sweep at job
// end.
func removeArtifact(path string) {
	_ = os.Remove(path)
}

func (p *Pipeline) viewUser(id snowflake.ID) (*database.User, error) {
	user, err := database.ViewUser(p.db, id)
	if err != nil {
		if lmdb.IsNotFound(err) {
			def := database.DefaultUser()
			return &def, nil
		}
		return nil, err
	}
	return user, nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// sleepCtx sleeps unless ctx finishes first; reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// classifyExtract reduces an extraction error to (record kind, one-line user
// reason).
func classifyExtract(err error) (string, string) {
	var xe *extract.Error
	if !errors.As(err, &xe) {
		return "ExtractorError", "could not process this link"
	}
	switch xe.Kind {
	case extract.KindPrivate:
		return "Private", "this media is private or requires a login"
	case extract.KindNotFound:
		return "NotFound", "this media no longer exists"
	case extract.KindTimeout:
		return "Timeout", "the site took too long to respond"
	case extract.KindNetwork:
		return "NetworkError", "a network error occurred, try again later"
	case extract.KindFormatUnavailable:
		return "FormatUnavailable", "no downloadable format matches your selection"
	default:
		return "ExtractorError", "could not process this link"
	}
}

// classifyUpload reduces a delivery error to (record kind, user reason).
func classifyUpload(err error) (string, string) {
	var ue *UploadError
	if !errors.As(err, &ue) {
		return "UploadRejected", "delivery failed"
	}
	switch ue.Kind {
	case UploadTimeout:
		return "UploadTimeout", "delivery timed out, try again later"
	case UploadNetwork:
		return "UploadNetwork", "delivery failed on a network error"
	default:
		return "UploadRejected", "the file could not be delivered (it may be too large)"
	}
}
