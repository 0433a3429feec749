package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"grabbit/internal/app"
	"grabbit/internal/discord/delivery"
	"grabbit/internal/discord/listeners"
	"grabbit/internal/pipeline"
	"grabbit/internal/platform/database"

	"github.com/Data-Corruption/stdx/xnet"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/urfave/cli/v3"
)

const (
	botShutdownTimeout = 10 * time.Second
	drainTimeout       = 30 * time.Second
	usageRetentionDays = 2 // daily ledger entries older than this are garbage
)

var Service = register(func(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "service",
		Usage: "service management commands",
		Commands: []*cli.Command{
			{
				Name:        "run",
				Description: "Runs the service in the foreground. Typically called by systemd.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rc",
						Usage: "register commands on startup",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					// wait for network (systemd user mode Wants/After is unreliable)
					if err := xnet.Wait(ctx, 0); err != nil {
						return fmt.Errorf("failed to wait for network: %w", err)
					}

					cfg, err := database.ViewConfig(a.DB)
					if err != nil {
						return fmt.Errorf("failed to get configuration from database: %w", err)
					}
					if cfg.BotToken == "" {
						return fmt.Errorf("bot token not set, run `%s setup` first", a.Name)
					}

					// job workspaces live under the runtime dir
					if err := os.MkdirAll(a.RuntimeDir, 0o700); err != nil {
						return fmt.Errorf("failed to create runtime dir: %w", err)
					}

					if err := createClient(a, cfg.BotToken, cmd.Bool("rc")); err != nil {
						return fmt.Errorf("failed to create bot client: %w", err)
					}

					// the pipeline's outward edges all go through delivery
					del := delivery.New(a)
					a.Pipeline, err = pipeline.New(pipeline.Options{
						DB:          a.DB,
						Registry:    a.Registry,
						Vault:       a.Vault,
						Extractor:   a.Extractor,
						Compositor:  a.Compositor,
						Engine:      a.Engine,
						Policies:    a,
						Uploader:    del,
						Sink:        del,
						Workers:     cfg.TranscodeWorkers,
						ScratchRoot: a.RuntimeDir,
					})
					if err != nil {
						return fmt.Errorf("failed to assemble pipeline: %w", err)
					}

					// background maintenance: vault scan + usage ledger GC
					if err := a.Vault.StartScanner(ctx, a.Cron, a, del.OperatorAlert); err != nil {
						return fmt.Errorf("failed to start vault scanner: %w", err)
					}
					if _, err := a.Cron.AddFunc("@daily", func() {
						cutoff := database.Day(time.Now().AddDate(0, 0, -usageRetentionDays))
						if err := database.PruneDailyUsage(a.DB, cutoff); err != nil {
							a.Log.Errorf("Error pruning daily usage: %s", err)
						}
					}); err != nil {
						return fmt.Errorf("failed to schedule usage GC: %w", err)
					}
					a.Cron.Start()
					a.AddCleanup(func() error {
						a.Cron.Stop()
						return nil
					})

					a.AddCleanup(func() error {
						cctx, cancel := context.WithTimeout(context.Background(), botShutdownTimeout)
						defer cancel()
						a.Client.Close(cctx)
						return nil
					})
					if err := a.Client.OpenGateway(ctx); err != nil {
						return fmt.Errorf("failed to open gateway: %w", err)
					}

					// block until shutdown signal
					<-ctx.Done()

					// graceful shutdown: cancel active jobs, then a bounded
					// wait for in-flight discord work and job goroutines to
					// drain (cancelled jobs still record outcomes and sweep
					// their workspaces)
					a.Log.Info("Shutdown requested, cancelling active jobs")
					a.Registry.CancelAll()
					del.OperatorAlert("bot_stopped", "reason=signal")
					drained := make(chan struct{})
					go func() {
						a.Pipeline.Wait()
						a.DiscordWG.Wait()
						close(drained)
					}()
					select {
					case <-drained:
					case <-time.After(drainTimeout):
						a.Log.Warn("Drain timeout reached, shutting down with work in flight")
					}

					return nil
				},
			},
		},
	}
})

func createClient(a *app.App, token string, registerCommands bool) error {
	a.Log.Debugf("creating client, disgo version: %s", disgo.Version)
	var err error
	a.Client, err = disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds|
					gateway.IntentGuildMessages|
					gateway.IntentDirectMessages|
					gateway.IntentMessageContent,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagsAll),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnReady:                         func(event *events.Ready) { listeners.OnReady(a, event, registerCommands) },
			OnGuildMessageCreate:            func(event *events.GuildMessageCreate) { listeners.OnGuildMessageCreate(a, event) },
			OnDMMessageCreate:               func(event *events.DMMessageCreate) { listeners.OnDMMessageCreate(a, event) },
			OnApplicationCommandInteraction: func(event *events.ApplicationCommandInteractionCreate) { listeners.OnCommandInteraction(a, event) },
			OnComponentInteraction:          func(event *events.ComponentInteractionCreate) { listeners.OnComponentInteraction(a, event) },
		}),
	)
	return err
}
