package runtime

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/taskflow/store/mem"
	"github.com/warriorguo/taskflow/system"
	"github.com/warriorguo/taskflow/types"
)

func TestRoot_ThreeLevelResume(t *testing.T) {
	c := newCounter()
	local := system.NewLocal(1, 0)
	root := newTestRoot(t, func(cfg *RootConfig) {
		cfg.System = local
	})
	top := root.Add("top", WithTask(c.task("top")))
	middle := top.Add("middle", WithTask(c.failOnce("middle")))
	bottom := middle.Add("bottom", WithTask(c.task("bottom")))
	bottom.Add("leaf", WithTask(c.task("leaf")))

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobFailed)
	assert.True(t, root.Failed())
	assert.False(t, root.Aborted())
	assert.True(t, root.Requeued())
	assert.True(t, local.Requeued())
	assert.Equal(t, 0, c.get("bottom"))
	assert.Equal(t, 0, c.get("leaf"))
	assert.Equal(t, types.Pending, bottom.Status())

	require.NoError(t, root.Execute(context.Background()))
	assert.False(t, root.Failed())
	assert.False(t, root.Requeued())
	assert.Equal(t, []string{"top", "middle", "middle", "bottom", "leaf"}, c.sequence())
}

func TestRoot_DoubleFailureAborts(t *testing.T) {
	c := newCounter()
	local := system.NewLocal(1, 0)
	root := newTestRoot(t, func(cfg *RootConfig) {
		cfg.System = local
	})
	broken := root.Add("broken", WithTask(c.failAlways("broken")))
	root.Add("after", WithTask(c.task("after")))

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobFailed)
	assert.Equal(t, types.Failed, broken.Status())
	assert.True(t, local.Requeued())

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobAborted)
	assert.True(t, root.Aborted())
	assert.False(t, local.Requeued())
	assert.Equal(t, types.Aborted, broken.Status())
	assert.Equal(t, 2, c.get("broken"))
	assert.Equal(t, 0, c.get("after"))
}

func TestRoot_AbortStopsConcurrentSiblingsSubtrees(t *testing.T) {
	c := newCounter()
	root := newTestRoot(t, func(cfg *RootConfig) {
		cfg.Concurrent = types.Concurrent
		cfg.Debug = true
	})
	root.Add("bad", WithTask(c.failAlways("bad")))
	slow := root.Add("slow", WithTaskFunc("slow", func(ctx context.Context, n *Node) error {
		time.Sleep(100 * time.Millisecond)
		c.hit("slow")
		return nil
	}))
	slow.Add("late", WithTask(c.task("late")))

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobAborted)
	// a launched sibling finishes its own task but schedules nothing new
	assert.Equal(t, 1, c.get("slow"))
	assert.Equal(t, 0, c.get("late"))
}

func TestRoot_FatalErrorAbortsFirstTime(t *testing.T) {
	root := newTestRoot(t)
	root.Add("fatal", WithTaskFunc("fatal", func(ctx context.Context, n *Node) error {
		return types.NewFatalErrorf("cannot continue")
	}))

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobAborted)
	assert.False(t, root.Requeued())
}

func TestRoot_DebugAbortsFirstTime(t *testing.T) {
	c := newCounter()
	root := newTestRoot(t, func(cfg *RootConfig) {
		cfg.Debug = true
	})
	root.Add("once", WithTask(c.failOnce("once")))

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobAborted)
	assert.True(t, root.Debug())
	assert.False(t, root.Requeued())
}

func TestRoot_CheckpointRoundTrip(t *testing.T) {
	c := newCounter()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterTask("first", c.task("first").fn))
	require.NoError(t, reg.RegisterTask("second", c.failOnce("second").fn))
	require.NoError(t, reg.RegisterTask("third", c.task("third").fn))

	s := mem.NewMemStore()
	workdir := t.TempDir()
	build := func() *Root {
		return newTestRoot(t, func(cfg *RootConfig) {
			cfg.Store = s
			cfg.Registry = reg
			cfg.Workdir = workdir
			cfg.Init = types.Data{"mesh": "fine"}
		})
	}

	first := build()
	a := first.Add("a", WithTask(Builtin("first")), WithArgs("x", 1))
	first.Add("b", WithTask(Builtin("second")), WithInherit(a), WithConcurrent(true)).
		Add("c", WithTask(Builtin("third")), WithProber("probe"))
	assert.ErrorIs(t, first.Execute(context.Background()), ErrJobFailed)

	cp, err := LoadCheckpoint(context.Background(), s, "test")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Failed)
	require.Len(t, cp.Root.Children, 2)
	require.NotNil(t, cp.Root.Children[1].Inherit)
	assert.Equal(t, []int{0}, cp.Root.Children[1].Inherit.Path)
	assert.Contains(t, cp.Root.Children[1].Error, "failed on purpose")

	// a fresh process rebuilds nothing in code and resumes from the checkpoint
	second := build()
	require.NoError(t, second.Restore(context.Background()))
	require.NoError(t, second.Restore(context.Background()))
	children := second.Children()
	require.Len(t, children, 2)
	assert.Equal(t, types.Done, children[0].Status())
	assert.Equal(t, []any{"x", float64(1)}, children[0].Args())
	assert.Same(t, children[0], children[1].inherit)
	assert.Equal(t, "second", children[1].Task().Key())
	assert.Equal(t, types.TaskBuiltin, children[1].Task().Kind())
	mesh, _ := children[1].Children()[0].GetString("mesh")
	assert.Equal(t, "fine", mesh)

	require.NoError(t, second.Execute(context.Background()))
	assert.Equal(t, []string{"first", "second", "second", "third"}, c.sequence())

	// everything done, running again invokes nothing
	third := build()
	require.NoError(t, third.Execute(context.Background()))
	assert.Equal(t, 4, len(c.sequence()))
}

func TestRoot_PauseOnDeadline(t *testing.T) {
	c := newCounter()
	local := system.NewLocal(1, 0)
	root := newTestRoot(t, func(cfg *RootConfig) {
		cfg.System = local
		cfg.Walltime = 150 * time.Millisecond
		cfg.Gap = 50 * time.Millisecond
	})
	root.Add("long", WithTaskFunc("long", func(ctx context.Context, n *Node) error {
		time.Sleep(400 * time.Millisecond)
		c.hit("long")
		return nil
	}))
	root.Add("next", WithTask(c.task("next")))

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobPaused)
	assert.True(t, root.Paused())
	assert.True(t, root.Requeued())
	assert.True(t, local.Requeued())
	assert.Equal(t, 1, c.get("long"))
	assert.Equal(t, 0, c.get("next"))

	cp, err := LoadCheckpoint(context.Background(), root.Store(), "test")
	require.NoError(t, err)
	assert.True(t, cp.Paused)
	assert.False(t, cp.Root.Children[0].EndTime.IsZero())
}

func TestRoot_RejectsNestedExecute(t *testing.T) {
	var nested error
	root := newTestRoot(t)
	root.Add("inner", WithTaskFunc("inner", func(ctx context.Context, n *Node) error {
		nested = n.Root().Execute(ctx)
		return nil
	}))

	require.NoError(t, root.Execute(context.Background()))
	assert.True(t, types.IsFatal(nested))
}

func TestRoot_StoreFailures(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	root := newTestRoot(t, func(cfg *RootConfig) {
		cfg.Store = mem.NewMemStoreWithErrHandler(func() error {
			if failing.Load() {
				return errors.New("disk full")
			}
			return nil
		})
	})
	c := newCounter()
	root.Add("a", WithTaskFunc("a", func(ctx context.Context, n *Node) error {
		c.hit("a")
		failing.Store(true)
		return nil
	}))

	err := root.Save(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// nothing runs without the previous checkpoint
	require.Error(t, root.Execute(context.Background()))
	assert.Equal(t, 0, c.get("a"))

	// a failing save during the run is logged, the run goes on
	failing.Store(false)
	require.NoError(t, root.Execute(context.Background()))
	assert.Equal(t, 1, c.get("a"))
}

func TestRoot_NewRootValidation(t *testing.T) {
	_, err := NewRoot(RootConfig{Name: "", Nodes: 1})
	assert.True(t, errors.Is(err, errors.BadRequest))
	_, err = NewRoot(RootConfig{Name: "x", Nodes: 0})
	assert.True(t, errors.Is(err, errors.BadRequest))
}

func TestRoot_Report(t *testing.T) {
	c := newCounter()
	root := newTestRoot(t)
	require.NoError(t, root.Registry().RegisterProber("fixed", func(n *Node) string { return "3/4" }))
	root.Add("done", WithTask(c.task("done")))
	root.Add("broken", WithTask(c.failAlways("broken")))
	root.Add("never", WithProber("fixed"))

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobFailed)

	report := root.Report()
	require.Len(t, report.Children, 3)
	assert.Equal(t, types.Done, report.Children[0].Status)
	assert.Equal(t, types.Failed, report.Children[1].Status)
	assert.Equal(t, types.Pending, report.Children[2].Status)

	var sb strings.Builder
	require.NoError(t, report.WriteText(&sb))
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "  ✓ done [done]"))
	assert.Contains(t, lines[2], "broken always fails")

	dot := report.DOT("test")
	assert.True(t, strings.HasPrefix(dot, "digraph D {"))
	assert.Contains(t, dot, `color="green"`)
	assert.Contains(t, dot, `color="red"`)
	assert.Contains(t, dot, `color="white"`)
	assert.Contains(t, dot, "->")
}

func TestRoot_SaveSkipsDetachedInherit(t *testing.T) {
	root := newTestRoot(t)
	p := root.Add("p")
	b := p.Add("b", WithInit(types.Data{"k": "b"}))
	a := root.Add("a", WithInherit(b))
	q := root.Add("q")
	d := q.Add("c").Add("d")
	e := root.Add("e", WithInherit(d))

	k, _ := a.GetString("k")
	assert.Equal(t, "b", k)

	p.ClearChildren()
	q.ClearChildren()
	require.NoError(t, root.Save(context.Background()))

	cp, err := LoadCheckpoint(context.Background(), root.Store(), "test")
	require.NoError(t, err)
	require.Len(t, cp.Root.Children, 4)
	assert.Nil(t, cp.Root.Children[1].Inherit)
	assert.Nil(t, cp.Root.Children[3].Inherit)

	// the tree lock is free again
	assert.Equal(t, "a", a.Path())
	assert.Equal(t, "e", e.Path())
	require.NoError(t, root.Execute(context.Background()))
}

func TestRoot_RootInheritRoundTrip(t *testing.T) {
	s := mem.NewMemStore()
	workdir := t.TempDir()
	build := func() *Root {
		return newTestRoot(t, func(cfg *RootConfig) {
			cfg.Store = s
			cfg.Workdir = workdir
			cfg.Init = types.Data{"k": "root"}
		})
	}

	first := build()
	x := first.Add("p", WithInit(types.Data{"k": "parent"})).Add("x")
	x.SetInherit(&first.Node)
	k, _ := x.GetString("k")
	assert.Equal(t, "root", k)
	require.NoError(t, first.Save(context.Background()))

	cp, err := LoadCheckpoint(context.Background(), s, "test")
	require.NoError(t, err)
	link := cp.Root.Children[0].Children[0].Inherit
	require.NotNil(t, link)
	assert.Empty(t, link.Path)
	assert.Nil(t, cp.Root.Children[0].Inherit)

	second := build()
	require.NoError(t, second.Restore(context.Background()))
	restored := second.Children()[0].Children()[0]
	assert.Same(t, &second.Node, restored.inherit)
	k, _ = restored.GetString("k")
	assert.Equal(t, "root", k)
}

// writeCounter is implemented by the mem store
type writeCounter interface {
	Writes() int
}

func TestRoot_DeadlineSettlesBeforeReturn(t *testing.T) {
	// every store call is slow so the deadline fires while a save is under way
	s := mem.NewMemStoreWithErrHandler(func() error {
		time.Sleep(60 * time.Millisecond)
		return nil
	})
	local := system.NewLocal(1, 0)
	root := newTestRoot(t, func(cfg *RootConfig) {
		cfg.Store = s
		cfg.System = local
		cfg.Walltime = 60 * time.Millisecond
		cfg.Gap = 20 * time.Millisecond
	})
	c := newCounter()
	root.Add("a", WithTask(c.task("a")))

	assert.ErrorIs(t, root.Execute(context.Background()), ErrJobPaused)
	assert.True(t, local.Requeued())
	writes := s.(writeCounter).Writes()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, writes, s.(writeCounter).Writes())
	assert.True(t, root.Paused())

	cp, err := LoadCheckpoint(context.Background(), s, "test")
	require.NoError(t, err)
	assert.True(t, cp.Paused)
}
