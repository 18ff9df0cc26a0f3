package runtime

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/taskflow/types"
)

func noop(ctx context.Context, n *Node) error {
	return nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.RegisterTask("a", noop))
	assert.True(t, errors.Is(reg.RegisterTask("a", noop), errors.AlreadyExists))
	assert.True(t, errors.Is(reg.RegisterTask("", noop), errors.BadRequest))
	assert.True(t, errors.Is(reg.RegisterTask("b", nil), errors.BadRequest))
	require.NoError(t, reg.RegisterTask(SymbolKey("solver", "Run"), noop))

	_, exists := reg.Task("a")
	assert.True(t, exists)
	_, exists = reg.Task("missing")
	assert.False(t, exists)
	assert.Equal(t, []string{"a", "solver:Run"}, reg.Keys())

	require.NoError(t, reg.RegisterRankFunc("r", func(ctx context.Context, args ...any) error { return nil }))
	_, exists = reg.RankFunc("r")
	assert.True(t, exists)
	require.NoError(t, reg.RegisterProber("p", func(n *Node) string { return "" }))
	_, exists = reg.Prober("p")
	assert.True(t, exists)
}

func TestTask_Resolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTask("solver:Run", noop))
	require.NoError(t, reg.RegisterTask("taskflow.sleep", noop))

	tests := map[string]struct {
		task  *Task
		kind  types.TaskKind
		key   string
		fatal bool
	}{
		"closure":        {Closure("c", noop), types.TaskClosure, "c", false},
		"symbol":         {Symbol("solver", "Run"), types.TaskSymbol, "solver:Run", false},
		"builtin":        {Builtin("taskflow.sleep"), types.TaskBuiltin, "taskflow.sleep", false},
		"missing symbol": {Symbol("solver", "Stop"), types.TaskSymbol, "solver:Stop", true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.task.Kind())
			assert.Equal(t, tt.key, tt.task.Key())

			fn, err := tt.task.resolve(reg)
			if tt.fatal {
				assert.True(t, types.IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, fn)

			restored, err := taskFromRecord(tt.task.record())
			require.NoError(t, err)
			assert.Equal(t, tt.key, restored.Key())
			assert.Equal(t, tt.kind, restored.Kind())
		})
	}

	_, err := taskFromRecord(&types.TaskRecord{Kind: "lambda"})
	assert.Error(t, err)
	restored, err := taskFromRecord(nil)
	assert.NoError(t, err)
	assert.Nil(t, restored)
}

func TestRegistry_Adopt(t *testing.T) {
	reg := NewRegistry()
	first := Closure("k", noop)
	reg.adopt(first)
	reg.adopt(Closure("k", func(ctx context.Context, n *Node) error { return errors.New("second") }))
	reg.adopt(Builtin("taskflow.sleep"))
	reg.adopt(nil)

	fn, exists := reg.Task("k")
	require.True(t, exists)
	assert.NoError(t, fn(context.Background(), nil))
	assert.Equal(t, []string{"k"}, reg.Keys())
}
