package cli

import (
	"github.com/juju/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warriorguo/taskflow/jobfile"
	"github.com/warriorguo/taskflow/runtime"
	"github.com/warriorguo/taskflow/system"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	var (
		params     map[string]string
		maxRequeue int
	)
	cmd := &cobra.Command{
		Use:   "run <job.yaml> [args...]",
		Short: "Execute a job, resuming from its checkpoint",
		Example: `  taskflow run cavity.yaml
  taskflow run --nodes 4 --walltime 12h --system slurm cavity.yaml fine
  taskflow run --param mesh=fine --store-dir .taskflow cavity.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars := jobfile.Vars{
				Args:   args[1:],
				Params: lo.MapValues(params, func(value, _ string) any { return value }),
			}
			root, err := loadRoot(v, args[0], vars)
			if err != nil {
				return errors.Trace(err)
			}
			defer root.Close()
			return run(cmd, root, maxRequeue)
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "template parameter of the job file, key=value")
	cmd.Flags().IntVar(&maxRequeue, "max-requeue", 3, "how many times a local job is run again after a requeue")
	return cmd
}

// run executes the root until it stops asking for a requeue. A local system
// only records requeues, so they are honoured here by running the same tree
// again. On a cluster the job is resubmitted and this process just exits.
func run(cmd *cobra.Command, root *runtime.Root, maxRequeue int) error {
	local, isLocal := root.System().(*system.Local)
	for attempt := 0; ; attempt++ {
		err := root.Execute(cmd.Context())
		if err == nil {
			log.Infof("job %s done", root.Name())
			return nil
		}
		if errors.Is(err, runtime.ErrJobAborted) || !root.Requeued() {
			return errors.Trace(err)
		}
		if !isLocal {
			log.Infof("job %s requeued: %v", root.Name(), err)
			return nil
		}
		if !local.Requeued() || attempt >= maxRequeue {
			return errors.Annotatef(err, "after %d local requeues", attempt)
		}
		if cmd.Context().Err() != nil {
			return errors.Trace(cmd.Context().Err())
		}
		log.Infof("job %s requeued locally, running again (%d/%d)", root.Name(), attempt+1, maxRequeue)
	}
}
