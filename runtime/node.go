package runtime

import (
	"context"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/warriorguo/taskflow/store/dir"
	"github.com/warriorguo/taskflow/types"
)

// Node is a directory-scoped unit of work in the job tree. It owns its
// children, runs its own task first and only then schedules them.
// Every field below is guarded by the lock of the root.
type Node struct {
	root   *Root
	parent *Node

	cwd     string
	task    *Task
	prober  string
	args    []any
	init    types.Data
	data    types.Data
	inherit *Node

	concurrent types.Concurrency
	children   []*Node

	startTime    time.Time
	dispatchTime time.Time
	endTime      time.Time
	err          error

	inflight bool
}

type NodeOption func(*Node)

func WithTask(t *Task) NodeOption {
	return func(n *Node) {
		n.task = t
	}
}

// WithTaskFunc attaches fn as a closure task registered under key
func WithTaskFunc(key string, fn TaskFunc) NodeOption {
	return WithTask(Closure(key, fn))
}

func WithArgs(args ...any) NodeOption {
	return func(n *Node) {
		n.args = args
	}
}

func WithInit(init types.Data) NodeOption {
	return func(n *Node) {
		n.init = init.Clone()
	}
}

// WithInherit makes lookups of non structural keys continue at other instead of the parent
func WithInherit(other *Node) NodeOption {
	return func(n *Node) {
		n.inherit = other
	}
}

func WithConcurrent(concurrent bool) NodeOption {
	return func(n *Node) {
		n.concurrent = types.ConcurrencyOf(concurrent)
	}
}

func WithProber(key string) NodeOption {
	return func(n *Node) {
		n.prober = key
	}
}

func newNode(root *Root, parent *Node, cwd string, opts ...NodeOption) *Node {
	n := &Node{root: root, parent: parent, cwd: cwd, data: types.Data{}}
	for _, opt := range opts {
		opt(n)
	}
	if n.init == nil {
		n.init = types.Data{}
	}
	return n
}

// Add appends a child working in cwd, relative paths are joined onto this node's cwd
func (n *Node) Add(cwd string, opts ...NodeOption) *Node {
	child := newNode(n.root, n, cwd, opts...)
	n.root.registry.adopt(child.task)

	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	n.children = append(n.children, child)
	return child
}

// SetInherit points lookups of non structural keys at other, nil restores the parent chain
func (n *Node) SetInherit(other *Node) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	n.inherit = other
}

// ClearChildren drops every child, tasks rebuilding their subtree on retry call it first
func (n *Node) ClearChildren() {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	n.children = nil
}

func (n *Node) Parent() *Node {
	return n.parent
}

func (n *Node) Root() *Root {
	return n.root
}

func (n *Node) Task() *Task {
	return n.task
}

func (n *Node) Args() []any {
	return n.args
}

func (n *Node) Children() []*Node {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// Cwd is the absolute working directory
func (n *Node) Cwd() string {
	if filepath.IsAbs(n.cwd) || n.parent == nil {
		return filepath.Clean(n.cwd)
	}
	return filepath.Join(n.parent.Cwd(), n.cwd)
}

func (n *Node) Dir() *dir.Directory {
	return dir.New(n.root.fs, n.Cwd())
}

// Path is the cwd relative to the root, "." for the root itself
func (n *Node) Path() string {
	if n.parent == nil {
		return "."
	}
	rel, err := filepath.Rel(n.root.Cwd(), n.Cwd())
	if err != nil {
		return n.Cwd()
	}
	return rel
}

func (n *Node) String() string {
	return n.Path()
}

func (n *Node) Done() bool {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return n.done()
}

func (n *Node) done() bool {
	if n.endTime.IsZero() {
		return false
	}
	for _, child := range n.children {
		if !child.done() {
			return false
		}
	}
	return true
}

func (n *Node) Status() types.StatusType {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return n.status()
}

func (n *Node) status() types.StatusType {
	switch {
	case n.done():
		return types.Done
	case n.err != nil && (types.IsFatal(n.err) || n.root.aborted.Load()):
		return types.Aborted
	case n.err != nil:
		return types.Failed
	case !n.startTime.IsZero():
		return types.Running
	default:
		return types.Pending
	}
}

func (n *Node) Err() error {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return n.err
}

func (n *Node) StartTime() time.Time {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return n.startTime
}

func (n *Node) DispatchTime() time.Time {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return n.dispatchTime
}

func (n *Node) EndTime() time.Time {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return n.endTime
}

// Elapsed is the task duration, still growing while the task runs
func (n *Node) Elapsed() time.Duration {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return n.elapsed()
}

func (n *Node) elapsed() time.Duration {
	switch {
	case n.startTime.IsZero():
		return 0
	case n.endTime.IsZero():
		return time.Since(n.startTime)
	default:
		return n.endTime.Sub(n.startTime)
	}
}

// Progress runs the prober, an empty string when there is none
func (n *Node) Progress() string {
	if n.prober == "" {
		return ""
	}
	fn, exists := n.root.registry.Prober(n.prober)
	if !exists {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("prober %s of %s panicked: %v", n.prober, n.Path(), r)
		}
	}()
	return fn(n)
}

func (n *Node) markDispatched() {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	n.dispatchTime = time.Now()
}

// Execute runs the task of the node unless it already finished, then schedules
// its children. Failures are recorded on the node and raise the job flags of
// the root instead of being returned.
func (n *Node) Execute(ctx context.Context) {
	n.execTask(ctx)
	n.execChildren(ctx)
}

func (n *Node) execTask(ctx context.Context) {
	r := n.root

	r.mu.Lock()
	if !n.endTime.IsZero() {
		r.mu.Unlock()
		return
	}
	if n.inflight {
		r.mu.Unlock()
		log.Errorf("%s is already executing, rejecting a second attempt", n.Path())
		r.aborted.Store(true)
		return
	}
	n.inflight = true
	failedBefore := n.err != nil
	n.startTime = time.Now()
	n.dispatchTime = time.Time{}
	n.endTime = time.Time{}
	n.err = nil
	n.data = types.Data{}
	r.mu.Unlock()

	log.Debugf("running %s", n.Path())
	r.checkpoint(ctx)

	err := n.runTask(ctx)

	r.mu.Lock()
	n.inflight = false
	if err != nil {
		n.startTime = time.Time{}
		n.err = err
	} else {
		n.endTime = time.Now()
	}
	r.mu.Unlock()

	if err != nil {
		log.WithField("node", n.Path()).Errorf("task failed: %v", err)
		log.Debugf("%s", errors.ErrorStack(err))
		if failedBefore || r.debug || types.IsFatal(err) {
			r.aborted.Store(true)
		} else {
			r.failed.Store(true)
		}
	}
	r.checkpoint(ctx)
}

func (n *Node) runTask(ctx context.Context) (retErr error) {
	if n.task == nil {
		return nil
	}
	fn, err := n.task.resolve(n.root.registry)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if r := recover(); r != nil {
			retErr = types.NewFatalErrorf("panic in %s: %v", n.task, r)
		}
	}()
	return fn(ctx, n)
}

func (n *Node) execChildren(ctx context.Context) {
	r := n.root

	r.mu.Lock()
	ended := !n.endTime.IsZero()
	r.mu.Unlock()
	if !ended {
		return
	}

	launched := make(map[*Node]struct{})
	for {
		if r.aborted.Load() || r.paused.Load() {
			return
		}

		r.mu.Lock()
		unfinished := lo.Filter(n.children, func(child *Node, _ int) bool {
			_, excluded := launched[child]
			return !excluded && !child.done()
		})
		concurrent := n.isConcurrent()
		r.mu.Unlock()

		if len(unfinished) == 0 {
			return
		}
		if !concurrent {
			unfinished = unfinished[:1]
		}
		for _, child := range unfinished {
			launched[child] = struct{}{}
		}

		if len(unfinished) == 1 {
			unfinished[0].Execute(ctx)
		} else {
			var wg conc.WaitGroup
			for _, child := range unfinished {
				child := child
				wg.Go(func() { child.Execute(ctx) })
			}
			wg.Wait()
		}

		if r.failed.Load() || r.aborted.Load() {
			return
		}
	}
}

// isConcurrent walks up until a node sets the flag, sequential when none does
func (n *Node) isConcurrent() bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.concurrent != types.Inherit {
			return cur.concurrent == types.Concurrent
		}
	}
	return false
}

// indexPath locates n from the root, false once n or an ancestor was dropped from the tree
func (n *Node) indexPath() ([]int, bool) {
	if n.parent == nil {
		return []int{}, n == &n.root.Node
	}
	for i, sibling := range n.parent.children {
		if sibling == n {
			path, attached := n.parent.indexPath()
			return append(path, i), attached
		}
	}
	return nil, false
}
