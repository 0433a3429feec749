package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grabbit/internal/app"
	"grabbit/internal/app/commands"

	"github.com/urfave/cli/v3"
)

// set via -ldflags "-X main.version=vX.Y.Z"
var version = "vX.X.X"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app.App{Name: "grabbit", Version: version}
	defer a.Close()

	root := &cli.Command{
		Name:    a.Name,
		Usage:   "chat-driven media grabber",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log",
				Usage: "override the log level for this run (debug)",
			},
			&cli.StringFlag{
				Name:  "cookie-links",
				Usage: "path to a cookie linkage yaml (defaults are built in)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return a.Init(ctx, cmd)
		},
		Commands: commands.All(a),
	}

	if err := root.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		a.Close()
		os.Exit(1)
	}
}
