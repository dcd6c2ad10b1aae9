package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/coco/internal/properties"
	"github.com/mesh-intelligence/coco/pkg/coco"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the coco version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "coco v%s\nmodule: %s\ngo: %s\nproperty kinds: %s\n",
				coco.Version, coco.ModulePath, runtime.Version(), strings.Join(properties.NewRegistry().Kinds(), ", "))
			return nil
		},
	}
}
