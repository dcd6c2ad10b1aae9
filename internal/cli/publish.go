package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/coco/pkg/types"
)

func newPublishCmd(a *app) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "publish <item-id> <json|@file>",
		Short: "Publish new data for an Item",
		Long: "Validate the payload against the Item's dynamic properties and push it\n" +
			"to the server. The payload is a JSON object, inline or read from @file.",
		Example: `  coco publish rex '{"mood":"calm"}'
  coco publish rex @reading.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID := args[0]
			payload, err := decodePayload(args[1], os.ReadFile)
			if err != nil {
				return err
			}
			client, err := a.openClient(cmd, nil)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := loadMirror(cmd.Context(), client, cached); err != nil {
				return fmt.Errorf("load mirror: %w", err)
			}

			if err := client.Publish(cmd.Context(), itemID, payload); err != nil {
				if errors.Is(err, types.ErrInvalidValue) || errors.Is(err, types.ErrUnknownItem) {
					return userError("publish: %w", err)
				}
				return fmt.Errorf("publish: %w", err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"item": itemID, "published": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published data for %s\n", itemID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "validate against the snapshot saved by the last sync")
	return cmd
}
