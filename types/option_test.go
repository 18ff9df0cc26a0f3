package types

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewJobOptions_Defaults(t *testing.T) {
	opts := NewJobOptions()

	assert.NotNil(t, opts.Ctx)
	assert.Equal(t, "job", opts.Name)
	assert.Equal(t, ".", opts.Workdir)
	assert.Equal(t, 1, opts.Nodes)
	assert.Equal(t, 0, opts.CPUsPerNode)
	assert.Equal(t, 0, opts.GPUsPerNode)
	assert.Equal(t, 24*time.Hour, opts.Walltime)
	assert.Equal(t, 5*time.Minute, opts.Gap)
	assert.False(t, opts.Debug)
	assert.Equal(t, "local", opts.System)
	assert.False(t, opts.MemStore)
	assert.Empty(t, opts.StoreDir)
	assert.Nil(t, opts.PostgresConfig)
}

func TestWithPostgresConfig(t *testing.T) {
	config := &PostgresConfig{
		Host:     "dbhost",
		Port:     5433,
		User:     "user",
		Password: "pass",
		Database: "db",
		SSLMode:  "require",
		Table:    "checkpoints",
	}

	opts := NewJobOptions()
	opt := WithPostgresConfig(config)
	opt(opts)

	assert.NotNil(t, opts.PostgresConfig)
	assert.Equal(t, "dbhost", opts.PostgresConfig.Host)
	assert.Equal(t, 5433, opts.PostgresConfig.Port)
	assert.Equal(t, "user", opts.PostgresConfig.User)
	assert.Equal(t, "pass", opts.PostgresConfig.Password)
	assert.Equal(t, "db", opts.PostgresConfig.Database)
	assert.Equal(t, "require", opts.PostgresConfig.SSLMode)
	assert.Equal(t, "checkpoints", opts.PostgresConfig.Table)
}

func TestMultipleOptions(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, 1)

	opts := NewJobOptions()
	for _, opt := range []JobOption{
		WithContext(ctx),
		WithName("heat"),
		WithWorkdir("/scratch/heat"),
		SetNodes(8),
		SetNodeCapacity(64, 4),
		SetWalltime(2*time.Hour, 10*time.Minute),
		SetGap(15 * time.Minute),
		EnableDebug(),
		WithDriverCommand("/usr/bin/heat"),
		WithSystem("slurm"),
		EnableMemStore(),
		WithStoreDir("/var/lib/taskflow"),
	} {
		opt(opts)
	}

	assert.Equal(t, 1, opts.Ctx.Value(ctxKey{}))
	assert.Equal(t, "heat", opts.Name)
	assert.Equal(t, "/scratch/heat", opts.Workdir)
	assert.Equal(t, 8, opts.Nodes)
	assert.Equal(t, 64, opts.CPUsPerNode)
	assert.Equal(t, 4, opts.GPUsPerNode)
	assert.Equal(t, 2*time.Hour, opts.Walltime)
	// SetGap applied after SetWalltime wins
	assert.Equal(t, 15*time.Minute, opts.Gap)
	assert.True(t, opts.Debug)
	assert.Equal(t, "/usr/bin/heat", opts.DriverCommand)
	assert.Equal(t, "slurm", opts.System)
	assert.True(t, opts.MemStore)
	assert.Equal(t, "/var/lib/taskflow", opts.StoreDir)
}
