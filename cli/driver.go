package cli

import (
	"github.com/spf13/cobra"
	"github.com/warriorguo/taskflow/runtime"
)

func newDriverCommand() *cobra.Command {
	var rank int
	cmd := &cobra.Command{
		Use:    "driver <record>",
		Short:  "Run one rank of an in-process function, invoked by the launcher",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rank < 0 {
				rank = runtime.RankFromEnv()
			}
			return runtime.RunDriver(cmd.Context(), runtime.DefaultRegistry, args[0], rank)
		},
	}
	cmd.Flags().IntVar(&rank, "rank", -1, "rank of this process, read from the MPI environment by default")
	return cmd
}
