package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

func NewJobOptions() *JobOptions {
	opts := &JobOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type JobOptions struct {
	Ctx context.Context
	/**
	 * default: "job"
	 * name of the job, also the key the checkpoint is saved under.
	 */
	Name string `default:"job"`
	/**
	 * default: "."
	 * working directory of the root node, every node cwd is relative to it.
	 */
	Workdir string `default:"."`
	/**
	 * default: 1
	 * total number of cluster nodes allotted to the job, the admission
	 * scheduler never runs tasks requiring more than this at once.
	 */
	Nodes int `default:"1"`
	/**
	 * default: 0, means taking the value reported by the system.
	 */
	CPUsPerNode int `default:"0"`
	GPUsPerNode int `default:"0"`
	/**
	 * default: 24h
	 * Walltime minus Gap is when the deadline timer fires and the job pauses.
	 */
	Walltime time.Duration `default:"24h"`
	Gap      time.Duration `default:"5m"`
	/**
	 * default: false, only set it to true when doing debugging or developing.
	 * Debug disables the deadline timer and makes any task failure fatal.
	 */
	Debug bool `default:"false"`
	/**
	 * default: "", means the running executable.
	 * DriverCommand is the program invoked with `driver <record>` to run in-process
	 * functions under MPI.
	 */
	DriverCommand string
	/**
	 * default: "local", one of local, slurm.
	 */
	System string `default:"local"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`
	/**
	 * StoreDir keeps checkpoints as files under the directory.
	 */
	StoreDir string

	// PostgreSQL store configuration
	// PostgresConfig takes precedence over StoreDir, which takes precedence over MemStore
	PostgresConfig *PostgresConfig
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
	Table    string
}
type JobOption func(*JobOptions)

func WithContext(ctx context.Context) JobOption {
	return func(opts *JobOptions) {
		opts.Ctx = ctx
	}
}

func WithName(name string) JobOption {
	return func(opts *JobOptions) {
		opts.Name = name
	}
}

func WithWorkdir(dir string) JobOption {
	return func(opts *JobOptions) {
		opts.Workdir = dir
	}
}

func SetNodes(nodes int) JobOption {
	return func(opts *JobOptions) {
		opts.Nodes = nodes
	}
}

func SetNodeCapacity(cpus, gpus int) JobOption {
	return func(opts *JobOptions) {
		opts.CPUsPerNode = cpus
		opts.GPUsPerNode = gpus
	}
}

func SetWalltime(walltime, gap time.Duration) JobOption {
	return func(opts *JobOptions) {
		opts.Walltime = walltime
		opts.Gap = gap
	}
}

func SetGap(gap time.Duration) JobOption {
	return func(opts *JobOptions) {
		opts.Gap = gap
	}
}

func EnableDebug() JobOption {
	return func(opts *JobOptions) {
		opts.Debug = true
	}
}

func WithDriverCommand(cmd string) JobOption {
	return func(opts *JobOptions) {
		opts.DriverCommand = cmd
	}
}

func WithSystem(system string) JobOption {
	return func(opts *JobOptions) {
		opts.System = system
	}
}

func EnableMemStore() JobOption {
	return func(opts *JobOptions) {
		opts.MemStore = true
	}
}

func WithStoreDir(dir string) JobOption {
	return func(opts *JobOptions) {
		opts.StoreDir = dir
	}
}

// WithPostgresConfig configures the job to keep its checkpoint in PostgreSQL
func WithPostgresConfig(config *PostgresConfig) JobOption {
	return func(opts *JobOptions) {
		opts.PostgresConfig = config
	}
}
