package cli

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// newSizeCmd creates the size command.
func (a *App) newSizeCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "size <user-id>",
		Short: "Report the storage used by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, ds, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx), ds)

			size, err := ds.UserStorageSize(ctx, storage.UserID(args[0]))
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(a.stdout).Encode(size)
			}
			fmt.Fprintf(a.stdout, "Documents:   %d bytes\n", size.DBDocuments)
			fmt.Fprintf(a.stdout, "Attachments: %d bytes\n", size.AttachedFiles)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
