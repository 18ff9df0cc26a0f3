package cli

import (
	"strings"

	"github.com/juju/errors"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/warriorguo/taskflow/store/postgres"
	"github.com/warriorguo/taskflow/types"
)

const (
	Config      = "config"
	LogLevel    = "log-level"
	LogFormat   = "log-format"
	Name        = "name"
	Workdir     = "workdir"
	Nodes       = "nodes"
	CPUsPerNode = "cpus-per-node"
	GPUsPerNode = "gpus-per-node"
	Walltime    = "walltime"
	Gap         = "gap"
	Debug       = "debug"
	System      = "system"
	Driver      = "driver"
	StoreDir    = "store-dir"
	MemStore    = "mem-store"
	PostgresDSN = "postgres-dsn"
)

func addGlobalFlags(flags *flag.FlagSet) {
	flags.String(Config, "", "config file (yaml, json or toml)")
	flags.String(LogLevel, "info", "minimum log level")
	flags.String(LogFormat, "text", "log format (text, json)")
}

func addJobFlags(flags *flag.FlagSet) {
	defaults := types.NewJobOptions()
	flags.String(Name, defaults.Name, "job name, also the checkpoint key")
	flags.String(Workdir, defaults.Workdir, "working directory of the root node")
	flags.Int(Nodes, defaults.Nodes, "number of cluster nodes owned by the job")
	flags.Int(CPUsPerNode, defaults.CPUsPerNode, "cpus per node, 0 asks the system")
	flags.Int(GPUsPerNode, defaults.GPUsPerNode, "gpus per node, 0 asks the system")
	flags.Duration(Walltime, defaults.Walltime, "walltime of the allocation")
	flags.Duration(Gap, defaults.Gap, "time kept before the walltime to checkpoint and requeue")
	flags.Bool(Debug, defaults.Debug, "abort on the first failure and never pause")
	flags.String(System, defaults.System, "cluster system (local, slurm)")
	flags.String(Driver, "", "command running in-process functions, this program by default")
	flags.String(StoreDir, "", "keep checkpoints as files under this directory")
	flags.Bool(MemStore, false, "keep checkpoints in memory only")
	flags.String(PostgresDSN, "", "keep checkpoints in PostgreSQL, e.g. \"host=db dbname=taskflow\"")
}

func bindFlags(v *viper.Viper, flags *flag.FlagSet) {
	v.SetEnvPrefix("taskflow")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(v.BindPFlags(flags))
}

// applyOptions overrides opts with every setting given on the command line,
// in the environment or in the config file. Values left at their flag
// default keep what the job file set.
func applyOptions(v *viper.Viper, opts *types.JobOptions) error {
	setters := map[string]func(){
		Name:        func() { opts.Name = v.GetString(Name) },
		Workdir:     func() { opts.Workdir = v.GetString(Workdir) },
		Nodes:       func() { opts.Nodes = v.GetInt(Nodes) },
		CPUsPerNode: func() { opts.CPUsPerNode = v.GetInt(CPUsPerNode) },
		GPUsPerNode: func() { opts.GPUsPerNode = v.GetInt(GPUsPerNode) },
		Walltime:    func() { opts.Walltime = v.GetDuration(Walltime) },
		Gap:         func() { opts.Gap = v.GetDuration(Gap) },
		Debug:       func() { opts.Debug = v.GetBool(Debug) },
		System:      func() { opts.System = v.GetString(System) },
		Driver:      func() { opts.DriverCommand = v.GetString(Driver) },
		StoreDir:    func() { opts.StoreDir = v.GetString(StoreDir) },
		MemStore:    func() { opts.MemStore = v.GetBool(MemStore) },
	}
	for key, set := range setters {
		if v.IsSet(key) {
			set()
		}
	}

	if dsn := v.GetString(PostgresDSN); dsn != "" {
		pg, err := postgres.ParseDSN(dsn)
		if err != nil {
			return errors.Annotatef(err, "--%s", PostgresDSN)
		}
		opts.PostgresConfig = &types.PostgresConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
			Table:    pg.Table,
		}
	}
	if opts.MemStore {
		opts.StoreDir = ""
	}
	return nil
}
