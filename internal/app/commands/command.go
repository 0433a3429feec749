package commands

import (
	"grabbit/internal/app"

	"github.com/urfave/cli/v3"
)

// builders are registered at init time; All materializes them against the app.
var registry []func(a *app.App) *cli.Command

func register(fn func(a *app.App) *cli.Command) func(a *app.App) *cli.Command {
	registry = append(registry, fn)
	return fn
}

// All builds every registered CLI command. Builders may return nil to opt out.
func All(a *app.App) []*cli.Command {
	out := make([]*cli.Command, 0, len(registry))
	for _, fn := range registry {
		if cmd := fn(a); cmd != nil {
			out = append(out, cmd)
		}
	}
	return out
}
