package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow/types"
)

// MPIOptions describes one parallel launch of a node.
// Name is the base name of the files the launch leaves in the node cwd:
// <name>.log for the combined output, <name>.error when a rank failed and
// <name>.task.json for the driver record of MPICall.
type MPIOptions struct {
	NProcs      int     `default:"1"`
	CPUsPerProc float64 `default:"1"`
	GPUsPerProc float64
	Name        string `default:"mpiexec"`

	// Arg is passed to every rank, RankArgs[i] only to rank i
	Arg      any
	RankArgs []any
}

func (o *MPIOptions) setDefaults() {
	if o.NProcs == 0 && len(o.RankArgs) > 0 {
		o.NProcs = len(o.RankArgs)
	}
	defaults.SetDefaults(o)
}

// MPIExec runs cmd on opts.NProcs processes once the scheduler admits it
func (n *Node) MPIExec(ctx context.Context, cmd string, opts MPIOptions) error {
	opts.setDefaults()
	r := n.root

	units, err := r.scheduler.Units(opts.NProcs, opts.CPUsPerProc, opts.GPUsPerProc)
	if err != nil {
		return errors.Trace(err)
	}
	launch, err := r.system.LaunchCommand(cmd, opts.NProcs, opts.CPUsPerProc, opts.GPUsPerProc)
	if err != nil {
		return errors.Trace(err)
	}

	ticket, err := r.scheduler.Acquire(ctx, units)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.scheduler.Release(ticket)

	n.markDispatched()
	done := make(chan error, 1)
	if err := r.submit(func() {
		done <- n.runProcess(ctx, launch, opts.Name)
	}); err != nil {
		return errors.Trace(err)
	}
	return <-done
}

// MPICall runs the registered rank function key on every rank through the driver command
func (n *Node) MPICall(ctx context.Context, key string, opts MPIOptions) error {
	if _, exists := n.root.registry.RankFunc(key); !exists {
		return types.NewFatalErrorf("rank function %s is not registered", key)
	}
	opts.setDefaults()
	if len(opts.RankArgs) > 0 && len(opts.RankArgs) != opts.NProcs {
		return errors.BadRequestf("%d rank args for %d processes", len(opts.RankArgs), opts.NProcs)
	}

	d := n.Dir()
	recordName := opts.Name + driverRecordSuffix
	record := &DriverRecord{
		Func:     key,
		Arg:      opts.Arg,
		HasArg:   opts.Arg != nil,
		RankArgs: opts.RankArgs,
	}
	if err := d.Dump(record, recordName); err != nil {
		return errors.Trace(err)
	}

	cmd := shellescape.QuoteCommand([]string{n.root.driverCommand, "driver", d.Path(recordName)})
	return n.MPIExec(ctx, cmd, opts)
}

func (n *Node) runProcess(ctx context.Context, command, name string) error {
	d := n.Dir()
	logName, errName := name+".log", name+".error"

	if err := d.Rm(errName); err != nil {
		return errors.Trace(err)
	}
	f, err := d.Create(logName)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(f, "%s\n\n", command)

	log.WithField("node", n.Path()).Debugf("launching %s", command)
	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = n.Cwd()
	cmd.Stdout = f
	cmd.Stderr = f
	runErr := cmd.Run()

	fmt.Fprintf(f, "\nelapsed: %.3fs\n", time.Since(start).Seconds())
	if err := f.Close(); err != nil {
		log.Warnf("close %s failed: %v", d.Path(logName), err)
	}

	// the error file written by a failing rank wins over the exit code
	if d.Exists(errName) {
		msg, err := d.Read(errName)
		if err != nil {
			return errors.Trace(err)
		}
		return types.NewProcessError(command, exitCode(runErr), d.Path(logName), errors.New(strings.TrimSpace(msg)))
	}
	if runErr != nil {
		return types.NewProcessError(command, exitCode(runErr), d.Path(logName), nil)
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Shell runs cmd in the node cwd without admission, output goes to <name>.log
func (n *Node) Shell(ctx context.Context, cmd, name string) error {
	if name == "" {
		name = "shell"
	}
	return n.runProcess(ctx, cmd, name)
}
