package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/store/mem"
	"github.com/warriorguo/taskflow/system"
	"github.com/warriorguo/taskflow/types"
)

const (
	ErrJobFailed  = errors.ConstError("job failed")
	ErrJobAborted = errors.ConstError("job aborted")
	ErrJobPaused  = errors.ConstError("job paused")
	ErrClosed     = errors.ConstError("job closed")
)

type RootConfig struct {
	Name    string
	Workdir string

	Task       *Task
	Args       []any
	Init       types.Data
	Concurrent types.Concurrency
	Prober     string

	// Nodes is the number of cluster nodes the job owns, CPUsPerNode and
	// GPUsPerNode default to what the system reports
	Nodes       int
	CPUsPerNode int
	GPUsPerNode int

	// the job pauses Gap before Walltime runs out, a zero Walltime never pauses
	Walltime time.Duration
	Gap      time.Duration
	Debug    bool

	// DriverCommand runs in-process functions under MPI, the current executable by default
	DriverCommand string

	Store    store.Store
	System   system.System
	Registry *Registry
	Fs       afero.Fs
}

// Root is the top node of a job. It owns the job wide flags, the checkpoint,
// the deadline timer and the admission scheduler every parallel launch goes
// through. Exactly one Root exists per job.
type Root struct {
	Node

	// mu guards the state of every node in the tree
	mu sync.Mutex

	name          string
	walltime      time.Duration
	gap           time.Duration
	debug         bool
	driverCommand string
	runID         string

	store     store.Store
	system    system.System
	registry  *Registry
	fs        afero.Fs
	scheduler *Scheduler
	pool      *workerpool.WorkerPool
	poolMu    sync.RWMutex
	closed    bool

	failed    atomic.Bool
	aborted   atomic.Bool
	paused    atomic.Bool
	requeued  atomic.Bool
	executing atomic.Bool

	saveMu    sync.Mutex
	restoreMu sync.Mutex
	restored  bool
}

func NewRoot(cfg RootConfig) (*Root, error) {
	if cfg.Name == "" {
		return nil, errors.BadRequestf("empty job name")
	}
	if cfg.Nodes < 1 {
		return nil, errors.BadRequestf("job %s owns %d nodes", cfg.Name, cfg.Nodes)
	}
	if cfg.Workdir == "" {
		cfg.Workdir = "."
	}
	workdir, err := filepath.Abs(cfg.Workdir)
	if err != nil {
		return nil, errors.Annotatef(err, "resolve workdir %s", cfg.Workdir)
	}
	if cfg.Store == nil {
		cfg.Store = mem.NewMemStore()
	}
	if cfg.System == nil {
		cfg.System = system.NewLocal(cfg.CPUsPerNode, cfg.GPUsPerNode)
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.CPUsPerNode <= 0 {
		cfg.CPUsPerNode = cfg.System.CPUsPerNode()
	}
	if cfg.GPUsPerNode <= 0 {
		cfg.GPUsPerNode = cfg.System.GPUsPerNode()
	}
	if cfg.DriverCommand == "" {
		if cfg.DriverCommand, err = os.Executable(); err != nil {
			return nil, errors.Annotatef(err, "locate driver command")
		}
	}

	r := &Root{
		name:          cfg.Name,
		walltime:      cfg.Walltime,
		gap:           cfg.Gap,
		debug:         cfg.Debug,
		driverCommand: cfg.DriverCommand,
		store:         cfg.Store,
		system:        cfg.System,
		registry:      cfg.Registry,
		fs:            cfg.Fs,
		scheduler:     NewScheduler(cfg.Nodes, cfg.CPUsPerNode, cfg.GPUsPerNode),
		pool:          workerpool.New(cfg.Nodes),
	}
	r.Node = Node{
		root:       r,
		cwd:        workdir,
		task:       cfg.Task,
		args:       cfg.Args,
		init:       cfg.Init.Clone(),
		data:       types.Data{},
		concurrent: cfg.Concurrent,
		prober:     cfg.Prober,
	}
	if r.init == nil {
		r.init = types.Data{}
	}
	r.registry.adopt(cfg.Task)
	return r, nil
}

func (r *Root) Name() string {
	return r.name
}

func (r *Root) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

func (r *Root) Failed() bool {
	return r.failed.Load()
}

func (r *Root) Aborted() bool {
	return r.aborted.Load()
}

func (r *Root) Paused() bool {
	return r.paused.Load()
}

func (r *Root) Debug() bool {
	return r.debug
}

// Requeued reports whether the last Execute asked the system to resubmit the job
func (r *Root) Requeued() bool {
	return r.requeued.Load()
}

func (r *Root) Scheduler() *Scheduler {
	return r.scheduler
}

func (r *Root) System() system.System {
	return r.system
}

func (r *Root) Registry() *Registry {
	return r.registry
}

func (r *Root) Store() store.Store {
	return r.store
}

// Execute restores the previous checkpoint (or keeps the tree built in code),
// clears the job flags, arms the deadline timer and walks the tree.
// A soft failure requeues the job so the failed node is retried by the next
// run. The returned error tells how the run ended: nil when every node is
// done, ErrJobAborted, ErrJobPaused or ErrJobFailed otherwise.
func (r *Root) Execute(ctx context.Context) error {
	if !r.executing.CompareAndSwap(false, true) {
		return types.NewFatalErrorf("job %s is already executing", r.name)
	}
	defer r.executing.Store(false)

	if err := r.Restore(ctx); err != nil {
		return errors.Trace(err)
	}

	r.failed.Store(false)
	r.aborted.Store(false)
	r.paused.Store(false)
	r.requeued.Store(false)

	r.mu.Lock()
	r.runID = uuid.NewString()
	runID := r.runID
	r.mu.Unlock()

	logger := log.WithFields(log.Fields{"job": r.name, "run": runID})
	logger.Infof("executing in %s", r.Cwd())

	stopTimer := func() {}
	if !r.debug && r.walltime > 0 {
		deadline := r.walltime - r.gap
		if deadline <= 0 {
			logger.Warnf("walltime %s leaves no time after the gap %s", r.walltime, r.gap)
		}
		fired := make(chan struct{})
		timer := time.AfterFunc(deadline, func() {
			defer close(fired)
			r.pause(ctx)
		})
		// a pause already under way finishes before the outcome is read
		stopTimer = func() {
			if !timer.Stop() {
				<-fired
			}
		}
	}

	r.Node.Execute(ctx)
	stopTimer()

	if r.failed.Load() && !r.aborted.Load() && !r.debug {
		r.requeue(ctx)
	}
	r.checkpoint(ctx)

	switch {
	case r.aborted.Load():
		logger.Errorf("aborted")
		return ErrJobAborted
	case r.paused.Load():
		logger.Warnf("paused before the walltime")
		return ErrJobPaused
	case r.failed.Load():
		logger.Warnf("failed, retry by running again")
		return ErrJobFailed
	}
	logger.Infof("done in %s", r.Elapsed())
	return nil
}

func (r *Root) pause(ctx context.Context) {
	log.Warnf("job %s reached its deadline, pausing", r.name)
	r.paused.Store(true)
	r.checkpoint(ctx)
}

func (r *Root) requeue(ctx context.Context) {
	if !r.requeued.CompareAndSwap(false, true) {
		return
	}
	if err := r.system.Requeue(ctx); err != nil {
		log.Errorf("requeue %s failed: %v", r.name, err)
	}
}

// submit runs fn on the launch pool, ErrClosed once Close was called
func (r *Root) submit(fn func()) error {
	r.poolMu.RLock()
	defer r.poolMu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	r.pool.Submit(fn)
	return nil
}

// Close waits for in-flight launches and releases the store, later launches fail with ErrClosed
func (r *Root) Close() error {
	r.poolMu.Lock()
	if r.closed {
		r.poolMu.Unlock()
		return nil
	}
	r.closed = true
	r.poolMu.Unlock()

	r.pool.StopWait()
	return errors.Trace(store.Close(r.store))
}
