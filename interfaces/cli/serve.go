package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/eventstore-go/infrastructure/observability"
	"github.com/felixgeelhaar/eventstore-go/interfaces/httpapi"
)

// newServeCmd creates the serve command.
func (a *App) newServeCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve event queries over HTTP",
		Long: `Connect to the database, ensure indexes and serve event queries.

The server waits for the database to become reachable, retrying at the
configured interval, and shuts down gracefully on SIGINT or SIGTERM.

Examples:
  eventstore serve -c config.yaml
  eventstore serve -c config.yaml --address :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, ds, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx), ds)

			if err := ds.EnsureIndexes(ctx); err != nil {
				return err
			}

			if address == "" {
				address = cfg.HTTP.Address
			}
			router := httpapi.NewRouter(&httpapi.Deps{
				Datastore: ds,
				Tracer:    a.tracing.Tracer(observability.ScopeHTTP),
			})
			return httpapi.NewServer(address, router, time.Duration(cfg.HTTP.ShutdownTimeout)).Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Listen address (overrides http.address)")

	return cmd
}
