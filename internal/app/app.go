// Package app implements the application, following the dependency injection pattern.
package app

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Data-Corruption/lmdb-go/wrap"
	"github.com/Data-Corruption/stdx/xlog"
	"github.com/disgoorg/disgo/bot"
	"github.com/maypok86/otter"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"
	"golang.org/x/mod/semver"

	"grabbit/internal/pipeline"
	"grabbit/internal/platform/database"
	"grabbit/internal/platform/extract"
	"grabbit/internal/platform/hosts"
	"grabbit/internal/platform/vault"
	"grabbit/internal/quota"
	"grabbit/pkg/overlay"
	"grabbit/pkg/workqueue"
	"grabbit/pkg/x"
)

type CleanupFunc func() error

// policyTTL bounds how stale a job's admission-time policy snapshot can be.
const policyTTL = 5 * time.Second

/*
App represents the application, following the dependency injection pattern.

It provides:
  - build-time variables
  - injected services
  - lifecycle management
*/
type App struct {
	// build-time variables
	Name, Version string

	// injected services, etc.

	DB         *wrap.DB
	Log        *xlog.Logger
	UserAgent  string
	StorageDir string // (e.g., ~/.appName)
	RuntimeDir string // (e.g., XDG_RUNTIME_DIR/name, fallback to /tmp/name-USER)

	Linkage    *hosts.Linkage
	Vault      *vault.Vault
	Extractor  *extract.Extractor
	Compositor *overlay.Compositor
	Engine     *quota.Engine
	Registry   *pipeline.Registry
	Pipeline   *pipeline.Pipeline // assembled by the service command once the client exists

	Cron       *cron.Cron
	ProbeQueue *workqueue.Queue // politeness queue for cookie validation probes

	Client              *bot.Client
	DiscordEventLimiter chan struct{}   // limit concurrent event processing
	DiscordWG           *sync.WaitGroup // wait group for active Discord work

	policyCache otter.Cache[string, *pipeline.Policies]

	// lifecycle management
	cleanup     []CleanupFunc
	cleanupOnce sync.Once
	// Inside commands, you can use <-a.Context.Done() to check for cancellation.
	Context context.Context
}

func (a *App) Init(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	// paths
	var err error
	if a.StorageDir, err = getStoragePath(a.Name); err != nil {
		return nil, err
	}
	if a.RuntimeDir, err = getRuntimePath(a.Name); err != nil {
		return nil, err
	}

	// logger
	initLogLevel := x.Ternary(cmd.String("log") == "debug", "debug", "none")
	a.Log, err = xlog.New(filepath.Join(a.StorageDir, "logs"), initLogLevel)
	if err != nil {
		return ctx, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.AddCleanup(a.Log.Close)

	a.Log.Debugf("Starting %s, version: %s, storage path: %s, runtime path: %s",
		a.Name, a.Version, a.StorageDir, a.RuntimeDir)

	// database
	if a.DB, err = database.New(filepath.Join(a.StorageDir, "db"), a.Log); err != nil {
		return ctx, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.AddCleanup(func() error {
		a.DB.Close()
		return nil
	})
	a.Log.Debug("Database initialized")

	// get config
	cfg, err := database.ViewConfig(a.DB)
	if err != nil {
		return ctx, fmt.Errorf("failed to view config: %w", err)
	}

	// set UserAgent
	mmVer := strings.TrimPrefix(semver.MajorMinor(a.Version), "v")
	a.UserAgent = fmt.Sprintf("Mozilla/5.0 (compatible; %s/%s)", a.Name, mmVer)

	// set log level
	if initLogLevel != "debug" {
		if err := a.Log.SetLevel(cfg.LogLevel); err != nil {
			return ctx, fmt.Errorf("failed to set log level: %w", err)
		}
	}
	// put logger into context
	ctx = xlog.IntoContext(ctx, a.Log)

	// cookie linkage table (built-in defaults when the file is absent)
	linkPath := cmd.String("cookie-links")
	if linkPath == "" {
		candidate := filepath.Join(a.StorageDir, "cookie_links.yaml")
		if _, statErr := os.Stat(candidate); statErr == nil {
			linkPath = candidate
		}
	}
	if a.Linkage, err = hosts.LoadLinkage(linkPath); err != nil {
		return ctx, fmt.Errorf("failed to load cookie linkage: %w", err)
	}

	// cookie vault
	if a.Vault, err = vault.New(a.StorageDir, a.Linkage); err != nil {
		return ctx, fmt.Errorf("failed to initialize vault: %w", err)
	}

	// extractor
	probeTimeout := time.Duration(cfg.ProbeTimeoutSec) * time.Second
	if a.Extractor, err = extract.New(probeTimeout, a.UserAgent); err != nil {
		return ctx, fmt.Errorf("failed to initialize extractor: %w", err)
	}

	// compositor (probes for a hardware encoder once)
	a.Compositor = overlay.New(ctx)

	// quota engine + job registry
	a.Engine = quota.NewEngine(a.DB)
	a.Registry = pipeline.NewRegistry()

	// policy snapshot cache
	a.policyCache, err = otter.MustBuilder[string, *pipeline.Policies](16).
		Cost(func(_ string, _ *pipeline.Policies) uint32 { return 1 }).
		WithTTL(policyTTL).
		Build()
	if err != nil {
		return ctx, fmt.Errorf("failed to build policy cache: %w", err)
	}

	// limit concurrent event processing
	a.DiscordEventLimiter = make(chan struct{}, 100)
	a.DiscordWG = &sync.WaitGroup{}

	// cron: vault scan + usage ledger GC
	a.Cron = cron.New()
	a.ProbeQueue = workqueue.New(a.Log, 5*time.Second, 2*time.Second, 30*time.Second)
	a.AddCleanup(func() error {
		a.ProbeQueue.Close()
		return nil
	})

	a.Context = ctx
	return ctx, nil
}

// ProbeWithCookies implements the vault's prober by routing the probe through
// the politeness queue, so a full scan can't hammer the hosts back to back.
func (a *App) ProbeWithCookies(ctx context.Context, url, cookieFile string) error {
	var err error
	wg := &sync.WaitGroup{}
	wg.Add(1)
	if !a.ProbeQueue.Enqueue(url, false, func(ctx context.Context) error {
		err = a.Extractor.ProbeWithCookies(ctx, url, cookieFile)
		wg.Done()
		return err
	}) {
		return fmt.Errorf("probe for %s already queued or queue closed", url)
	}
	wg.Wait()
	return err
}

// Policies resolves the current policy snapshot, cached for a few seconds so
// concurrent admissions don't hammer the settings documents. A job resolves
// this once and finishes under it.
func (a *App) Policies() (*pipeline.Policies, error) {
	if pol, ok := a.policyCache.Get("policies"); ok {
		return pol, nil
	}
	cfg, err := database.ViewConfig(a.DB)
	if err != nil {
		return nil, err
	}
	global, err := database.ViewGlobalSettings(a.DB)
	if err != nil {
		return nil, err
	}
	logo, err := database.ViewLogoSettings(a.DB)
	if err != nil {
		return nil, err
	}
	limits, err := database.ViewGeneralLimits(a.DB)
	if err != nil {
		return nil, err
	}
	audio, err := database.ViewAudioSettings(a.DB)
	if err != nil {
		return nil, err
	}
	pol := &pipeline.Policies{Config: cfg, Global: global, Logo: logo, Limits: limits, Audio: audio}
	a.policyCache.Set("policies", pol)
	return pol, nil
}

// InvalidatePolicies drops the cached snapshot after an operator write.
func (a *App) InvalidatePolicies() {
	a.policyCache.Delete("policies")
}

func (a *App) Close() {
	a.cleanupOnce.Do(func() {
		// call cleanup funcs in reverse order
		for i := len(a.cleanup) - 1; i >= 0; i-- {
			if err := a.cleanup[i](); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to clean up: %v\n", err)
			}
		}
	})
}

func (a *App) AddCleanup(f func() error) {
	a.cleanup = append(a.cleanup, f)
}

// getStoragePath calculates the storage path for the application (~/.appName).
func getStoragePath(appName string) (string, error) {
	home, err := x.GetUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "."+appName), nil
}

// getRuntimePath calculates the runtime path for the application.
// Prefers XDG_RUNTIME_DIR, falls back to /tmp/appName-USER.
func getRuntimePath(appName string) (string, error) {
	// prefer XDG_RUNTIME_DIR (typically /run/user/UID)
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, appName), nil
	}

	// fallback for non-systemd systems
	// include username to avoid conflicts in shared /tmp
	username := os.Getenv("USER")
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return "", fmt.Errorf("cannot determine current user: %w", err)
		}
		username = u.Username
	}

	return filepath.Join("/tmp", appName+"-"+username), nil
}
