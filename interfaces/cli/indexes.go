package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newIndexesCmd creates the indexes command.
func (a *App) newIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create missing indexes and list them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, ds, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx), ds)

			if err := ds.EnsureIndexes(ctx); err != nil {
				return err
			}
			all, err := ds.ListIndexes(ctx)
			if err != nil {
				return err
			}
			for _, c := range all {
				fmt.Fprintf(a.stdout, "%s\n", c.Collection)
				for _, idx := range c.Indexes {
					if idx.Unique {
						fmt.Fprintf(a.stdout, "  - %s (unique)\n", idx.Name)
						continue
					}
					fmt.Fprintf(a.stdout, "  - %s\n", idx.Name)
				}
			}
			return nil
		},
	}
}
