package cli

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"
	"github.com/warriorguo/taskflow"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "taskflow %s %s/%s\n", taskflow.Version, goruntime.GOOS, goruntime.GOARCH)
			return err
		},
	}
}
