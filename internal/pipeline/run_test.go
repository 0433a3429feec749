package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Data-Corruption/lmdb-go/wrap"
	"github.com/Data-Corruption/stdx/xlog"

	"grabbit/internal/platform/database"
	"grabbit/internal/platform/extract"
	"grabbit/internal/platform/hosts"
	"grabbit/internal/platform/vault"
	"grabbit/internal/quota"
)

// fakeResolver answers probes and fetches from test-provided funcs.
type fakeResolver struct {
	probe func(ctx context.Context, rawURL, cookieFile string) (*extract.Metadata, error)
	fetch func(ctx context.Context, spec extract.FetchSpec) (string, error)
}

func (f *fakeResolver) Probe(ctx context.Context, rawURL, cookieFile string) (*extract.Metadata, error) {
	return f.probe(ctx, rawURL, cookieFile)
}

func (f *fakeResolver) Fetch(ctx context.Context, spec extract.FetchSpec) (string, error) {
	return f.fetch(ctx, spec)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []quota.Outcome
}

func (f *fakeRecorder) RecordOutcome(o quota.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeRecorder) recorded() []quota.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]quota.Outcome(nil), f.outcomes...)
}

type fakeUploader struct {
	mu        sync.Mutex
	filenames []string
	uploaded  chan struct{} // one receive per upload
}

func (f *fakeUploader) Upload(_ context.Context, _ *Job, path, filename string) error {
	if _, err := os.Stat(path); err != nil {
		return &UploadError{Kind: UploadRejected, Err: err}
	}
	f.mu.Lock()
	f.filenames = append(f.filenames, filename)
	f.mu.Unlock()
	if f.uploaded != nil {
		f.uploaded <- struct{}{}
	}
	return nil
}

type fakeSink struct {
	outcomes chan Summary
}

func (f *fakeSink) Progress(*Job, Progress)   {}
func (f *fakeSink) Outcome(_ *Job, s Summary) { f.outcomes <- s }
func (f *fakeSink) OperatorAlert(_, _ string) {}

type staticPolicies struct{ pol *Policies }

func (s staticPolicies) Policies() (*Policies, error) { return s.pol, nil }

func openPolicies(limits *database.GeneralLimits) *Policies {
	return &Policies{
		Config: &database.Configuration{},
		Global: &database.GlobalSettings{},
		Logo:   &database.LogoSettings{},
		Limits: limits,
		Audio:  &database.AudioSettings{Enabled: true, DurationCeilingMinutes: -1},
	}
}

func testDB(t *testing.T) *wrap.DB {
	t.Helper()
	log, err := xlog.New(t.TempDir(), "none")
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	db, err := database.New(t.TempDir(), log)
	if err != nil {
		t.Fatalf("db init: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPipeline(t *testing.T, scratch string, r Resolver, rec Recorder, up Uploader, sink Sink, pol *Policies) *Pipeline {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skipf("ffmpeg not available: %v", err)
	}
	v, err := vault.New(t.TempDir(), hosts.DefaultLinkage())
	if err != nil {
		t.Fatalf("vault init: %v", err)
	}
	p, err := New(Options{
		DB:          testDB(t),
		Registry:    NewRegistry(),
		Vault:       v,
		Extractor:   r,
		Engine:      rec,
		Policies:    staticPolicies{pol},
		Uploader:    up,
		Sink:        sink,
		ScratchRoot: scratch,
	})
	if err != nil {
		t.Fatalf("pipeline init: %v", err)
	}
	return p
}

func waitSummary(t *testing.T, sink *fakeSink) Summary {
	t.Helper()
	select {
	case s := <-sink.outcomes:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("job did not reach a terminal state")
		return Summary{}
	}
}

func testMetadata(title string) *extract.Metadata {
	return &extract.Metadata{
		ID:       "vid",
		Title:    title,
		Duration: 60,
		Formats: []extract.Format{
			{FormatID: "22", Ext: "mp4", VCodec: "avc1.64001F", ACodec: "mp4a.40.2", Height: 720, Filesize: 1 << 20},
		},
	}
}

// A job whose only URL is denied admission must leave no trace on disk.
func TestRunDeniedJobCreatesNoWorkspace(t *testing.T) {
	scratch := t.TempDir()
	resolver := &fakeResolver{
		probe: func(_ context.Context, _, _ string) (*extract.Metadata, error) {
			return testMetadata("clip"), nil
		},
		fetch: func(_ context.Context, _ extract.FetchSpec) (string, error) {
			t.Error("fetch must not run for a denied URL")
			return "", nil
		},
	}
	rec := &fakeRecorder{}
	sink := &fakeSink{outcomes: make(chan Summary, 1)}
	// daily ceiling of zero denies every free download
	pol := openPolicies(&database.GeneralLimits{FreeDurationCeilingMinutes: -1, FreeDailyCountCeiling: 0})
	p := testPipeline(t, scratch, resolver, rec, &fakeUploader{}, sink, pol)

	job, err := p.Submit(context.Background(), 42, 99, "tester",
		[]string{"https://www.youtube.com/watch?v=a"}, Mode{Height: 720}, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	summary := waitSummary(t, sink)
	p.Wait()

	if summary.Failed != 1 {
		t.Fatalf("failed = %d, want 1", summary.Failed)
	}
	if kind := summary.Results[0].ErrorKind; !strings.HasPrefix(kind, "QuotaDenied:") {
		t.Errorf("error kind = %q, want QuotaDenied prefix", kind)
	}
	if job.Workspace != "" {
		t.Errorf("workspace %q created for a job that never fetched", job.Workspace)
	}
	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch root not empty: %d entries", len(entries))
	}
	if got := rec.recorded(); len(got) != 0 {
		t.Errorf("denied URL recorded %d outcome(s), want 0", len(got))
	}
}

// Cancelling mid-job finishes it cleanly: the delivered URL stays delivered
// and counted, the rest are cancelled uncounted, and the workspace is gone.
func TestRunCancelAfterFirstURL(t *testing.T) {
	scratch := t.TempDir()
	resolver := &fakeResolver{
		probe: func(ctx context.Context, rawURL, _ string) (*extract.Metadata, error) {
			if strings.HasSuffix(rawURL, "second") {
				// hold the second URL at the probe until cancellation lands
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return testMetadata("First Clip!"), nil
		},
		fetch: func(_ context.Context, spec extract.FetchSpec) (string, error) {
			path := filepath.Join(spec.Dir, spec.Stem+".mp4")
			if err := os.WriteFile(path, []byte("media"), 0o600); err != nil {
				return "", err
			}
			return path, nil
		},
	}
	rec := &fakeRecorder{}
	up := &fakeUploader{uploaded: make(chan struct{}, 2)}
	sink := &fakeSink{outcomes: make(chan Summary, 1)}
	pol := openPolicies(&database.GeneralLimits{FreeDurationCeilingMinutes: -1, FreeDailyCountCeiling: -1})
	p := testPipeline(t, scratch, resolver, rec, up, sink, pol)

	job, err := p.Submit(context.Background(), 42, 99, "tester", []string{
		"https://www.youtube.com/watch?v=first",
		"https://www.youtube.com/watch?v=second",
	}, Mode{Height: 720}, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-up.uploaded:
	case <-time.After(10 * time.Second):
		t.Fatal("first URL was never delivered")
	}
	job.Cancel()

	summary := waitSummary(t, sink)
	p.Wait()

	if summary.Succeeded != 1 || summary.Cancelled != 1 {
		t.Fatalf("summary = %d succeeded / %d cancelled, want 1/1", summary.Succeeded, summary.Cancelled)
	}
	if st := job.State(); st != StateCancelled {
		t.Errorf("state = %s, want %s", st, StateCancelled)
	}
	if job.Workspace == "" {
		t.Fatal("delivered job never got a workspace")
	}
	if _, err := os.Stat(job.Workspace); !os.IsNotExist(err) {
		t.Errorf("workspace %s survived the terminal transition", job.Workspace)
	}
	if n := p.Registry().Len(); n != 0 {
		t.Errorf("registry still holds %d job(s)", n)
	}

	up.mu.Lock()
	filenames := append([]string(nil), up.filenames...)
	up.mu.Unlock()
	if len(filenames) != 1 || filenames[0] != "First Clip.mp4" {
		t.Errorf("delivered as %v, want [First Clip.mp4]", filenames)
	}

	got := rec.recorded()
	if len(got) != 1 {
		t.Fatalf("recorded %d outcome(s), want 1", len(got))
	}
	if got[0].JobID != job.ID || got[0].URLIndex != 0 || got[0].Record.Status != "completed" {
		t.Errorf("outcome = %s/%d/%s, want %s/0/completed", got[0].JobID, got[0].URLIndex, got[0].Record.Status, job.ID)
	}
}
