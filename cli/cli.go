package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warriorguo/taskflow"
	"github.com/warriorguo/taskflow/builtin"
	"github.com/warriorguo/taskflow/jobfile"
	"github.com/warriorguo/taskflow/runtime"
	"github.com/warriorguo/taskflow/types"
)

func init() {
	if err := builtin.Register(runtime.DefaultRegistry); err != nil {
		panic(errors.ErrorStack(err))
	}
}

// Execute runs the taskflow command line. Programs registering their own tasks
// and rank functions call it from main after registration, so the same binary
// also serves as the driver of in-process functions.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "taskflow",
		Short: "Run checkpointed trees of cluster tasks",

		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg := v.GetString(Config); cfg != "" {
				v.SetConfigFile(cfg)
				if err := v.ReadInConfig(); err != nil {
					return errors.Annotatef(err, "read config %s", cfg)
				}
			}
			return setupLogging(v.GetString(LogLevel), v.GetString(LogFormat))
		},
	}
	addGlobalFlags(cmd.PersistentFlags())
	addJobFlags(cmd.PersistentFlags())
	bindFlags(v, cmd.PersistentFlags())

	cmd.AddCommand(
		newRunCommand(v),
		newStatusCommand(v),
		newDriverCommand(),
		newVersionCommand(),
	)
	return cmd
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Annotatef(err, "--%s", LogLevel)
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.NotValidf("--%s %q", LogFormat, format)
	}
	return nil
}

// loadRoot builds the root of the job described by path. Options come from
// the defaults, then the job file, then the command line.
func loadRoot(v *viper.Viper, path string, vars jobfile.Vars) (*runtime.Root, error) {
	job, err := jobfile.Load(nil, path, vars)
	if err != nil {
		return nil, errors.Trace(err)
	}

	opts := types.NewJobOptions()
	job.Apply(opts)
	if err := applyOptions(v, opts); err != nil {
		return nil, errors.Trace(err)
	}

	cfg, err := taskflow.NewRootConfig(opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	job.Configure(&cfg)
	root, err := runtime.NewRoot(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := job.Populate(root); err != nil {
		root.Close()
		return nil, errors.Trace(err)
	}
	return root, nil
}
