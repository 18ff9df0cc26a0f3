package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/warriorguo/taskflow/runtime"
)

const (
	MPIExec = "taskflow.mpiexec"
	Shell   = "taskflow.shell"
	Sleep   = "taskflow.sleep"
	Call    = "taskflow.call"

	CountProber   = "taskflow.count"
	LogTailProber = "taskflow.logtail"
)

// attribute keys read by the builtins, resolved through the node chain
const (
	KeyCmd         = "cmd"
	KeyNProcs      = "nprocs"
	KeyCPUsPerProc = "cpus_per_proc"
	KeyGPUsPerProc = "gpus_per_proc"
	KeyLogName     = "log_name"
	KeySeconds     = "seconds"
	KeyFunc        = "func"
	KeyArg         = "arg"
	KeyRankArgs    = "rank_args"
	KeyProbeGlob   = "probe_glob"
	KeyProbeTotal  = "probe_total"
	KeyProbeLog    = "probe_log"
)

// Register adds every builtin task and prober to reg.
// Drivers resolving rank functions and runners resolving tasks must share
// the registration, so the CLI calls it on the default registry at start.
func Register(reg *runtime.Registry) error {
	tasks := map[string]runtime.TaskFunc{
		MPIExec: mpiexec,
		Shell:   shell,
		Sleep:   sleep,
		Call:    call,
	}
	for _, key := range lo.Keys(tasks) {
		if err := reg.RegisterTask(key, tasks[key]); err != nil {
			return errors.Trace(err)
		}
	}
	if err := reg.RegisterProber(CountProber, count); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(reg.RegisterProber(LogTailProber, logTail))
}

func command(n *runtime.Node) (string, error) {
	if cmd, exists := n.GetString(KeyCmd); exists && cmd != "" {
		return cmd, nil
	}
	if args := n.Args(); len(args) > 0 {
		return strings.Join(lo.Map(args, func(a any, _ int) string { return fmt.Sprint(a) }), " "), nil
	}
	return "", errors.NotFoundf("%s of %s", KeyCmd, n.Path())
}

func mpiOptions(n *runtime.Node) runtime.MPIOptions {
	opts := runtime.MPIOptions{}
	opts.NProcs, _ = n.GetInt(KeyNProcs)
	opts.CPUsPerProc, _ = n.GetFloat64(KeyCPUsPerProc)
	opts.GPUsPerProc, _ = n.GetFloat64(KeyGPUsPerProc)
	opts.Name, _ = n.GetString(KeyLogName)
	return opts
}

func mpiexec(ctx context.Context, n *runtime.Node) error {
	cmd, err := command(n)
	if err != nil {
		return errors.Trace(err)
	}
	return n.MPIExec(ctx, cmd, mpiOptions(n))
}

func shell(ctx context.Context, n *runtime.Node) error {
	cmd, err := command(n)
	if err != nil {
		return errors.Trace(err)
	}
	name, _ := n.GetString(KeyLogName)
	return n.Shell(ctx, cmd, name)
}

func sleep(ctx context.Context, n *runtime.Node) error {
	seconds, _ := n.GetFloat64(KeySeconds)
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

func call(ctx context.Context, n *runtime.Node) error {
	key, exists := n.GetString(KeyFunc)
	if !exists || key == "" {
		return errors.NotFoundf("%s of %s", KeyFunc, n.Path())
	}
	opts := mpiOptions(n)
	opts.Arg, _ = n.Get(KeyArg)
	if v, exists := n.Get(KeyRankArgs); exists {
		rankArgs, ok := v.([]any)
		if !ok {
			return errors.NotValidf("%s of %s", KeyRankArgs, n.Path())
		}
		opts.RankArgs = rankArgs
	}
	return n.MPICall(ctx, key, opts)
}
