package taskflow

import (
	"github.com/juju/errors"
	"github.com/spf13/afero"
	"github.com/warriorguo/taskflow/runtime"
	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/store/dir"
	"github.com/warriorguo/taskflow/store/mem"
	"github.com/warriorguo/taskflow/store/postgres"
	"github.com/warriorguo/taskflow/system"
	"github.com/warriorguo/taskflow/types"
)

// Version of the taskflow module, reported by the CLI
const Version = "0.3.0"

// NewJob creates the root of a job with the given options, nodes are added to it before Execute
func NewJob(opts ...types.JobOption) (*runtime.Root, error) {
	options := types.NewJobOptions()
	for _, opt := range opts {
		opt(options)
	}
	cfg, err := NewRootConfig(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return runtime.NewRoot(cfg)
}

// NewRootConfig resolves options into the collaborators of a root: the
// checkpoint store, the cluster system and the job limits. Callers may adjust
// the config, e.g. to set the root task, before runtime.NewRoot.
func NewRootConfig(options *types.JobOptions) (runtime.RootConfig, error) {
	s, err := NewStore(options)
	if err != nil {
		return runtime.RootConfig{}, errors.Trace(err)
	}
	sys, err := system.New(options.System, options.CPUsPerNode, options.GPUsPerNode)
	if err != nil {
		store.Close(s)
		return runtime.RootConfig{}, errors.Trace(err)
	}

	return runtime.RootConfig{
		Name:          options.Name,
		Workdir:       options.Workdir,
		Nodes:         options.Nodes,
		CPUsPerNode:   options.CPUsPerNode,
		GPUsPerNode:   options.GPUsPerNode,
		Walltime:      options.Walltime,
		Gap:           options.Gap,
		Debug:         options.Debug,
		DriverCommand: options.DriverCommand,
		Store:         s,
		System:        sys,
		Registry:      runtime.DefaultRegistry,
		Fs:            afero.NewOsFs(),
	}, nil
}

// NewStore picks the checkpoint store, PostgresConfig over StoreDir over MemStore
func NewStore(options *types.JobOptions) (store.Store, error) {
	switch {
	case options.PostgresConfig != nil:
		pgConfig := &postgres.Config{
			Host:     options.PostgresConfig.Host,
			Port:     options.PostgresConfig.Port,
			User:     options.PostgresConfig.User,
			Password: options.PostgresConfig.Password,
			Database: options.PostgresConfig.Database,
			SSLMode:  options.PostgresConfig.SSLMode,
			Table:    options.PostgresConfig.Table,
		}
		s, err := postgres.NewPostgresStore(options.Ctx, pgConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		return s, nil

	case options.StoreDir != "":
		return dir.NewDirStore(dir.NewOs(options.StoreDir)), nil

	default:
		return mem.NewMemStore(), nil
	}
}
