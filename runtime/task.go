package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/samber/lo"

	"github.com/warriorguo/taskflow/types"
)

// TaskFunc is the unit of work of a node
type TaskFunc func(ctx context.Context, n *Node) error

// RankFunc runs inside a driver process, once per MPI rank
type RankFunc func(ctx context.Context, args ...any) error

// ProberFunc estimates the progress of a node from its output, for display only
type ProberFunc func(n *Node) string

// Task refers to a TaskFunc by a stable key so that it survives a checkpoint.
// The three kinds are resolved through a Registry at execution time:
//   Closure(key, fn): fn is used directly, and registered under key for resumption
//   Symbol(module, name): registered under "module:name"
//   Builtin(name): registered under the dotted name, e.g. "taskflow.mpiexec"
type Task struct {
	kind   types.TaskKind
	key    string
	module string
	symbol string
	fn     TaskFunc
}

func Closure(key string, fn TaskFunc) *Task {
	return &Task{kind: types.TaskClosure, key: key, fn: fn}
}

func Symbol(module, name string) *Task {
	return &Task{kind: types.TaskSymbol, key: SymbolKey(module, name), module: module, symbol: name}
}

func Builtin(name string) *Task {
	return &Task{kind: types.TaskBuiltin, key: name}
}

func SymbolKey(module, name string) string {
	return module + ":" + name
}

func (t *Task) Key() string {
	return t.key
}

func (t *Task) Kind() types.TaskKind {
	return t.kind
}

func (t *Task) String() string {
	return fmt.Sprintf("%s(%s)", t.kind, t.key)
}

func (t *Task) resolve(reg *Registry) (TaskFunc, error) {
	if t.fn != nil {
		return t.fn, nil
	}
	fn, exists := reg.Task(t.key)
	if !exists {
		return nil, types.NewFatalErrorf("task %s is not registered", t)
	}
	return fn, nil
}

func (t *Task) record() *types.TaskRecord {
	return &types.TaskRecord{Kind: t.kind, Key: t.key, Module: t.module, Symbol: t.symbol}
}

func taskFromRecord(r *types.TaskRecord) (*Task, error) {
	if r == nil {
		return nil, nil
	}
	switch r.Kind {
	case types.TaskClosure:
		return &Task{kind: r.Kind, key: r.Key}, nil
	case types.TaskSymbol:
		return Symbol(r.Module, r.Symbol), nil
	case types.TaskBuiltin:
		return Builtin(r.Key), nil
	default:
		return nil, errors.NotValidf("task kind %q", r.Kind)
	}
}

// Registry maps stable keys to tasks, rank functions and probers.
// Checkpoints and driver records only carry keys, so every process resuming a
// job must register the same keys before executing.
type Registry struct {
	mu sync.RWMutex

	tasks   map[string]TaskFunc
	ranks   map[string]RankFunc
	probers map[string]ProberFunc
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:   make(map[string]TaskFunc),
		ranks:   make(map[string]RankFunc),
		probers: make(map[string]ProberFunc),
	}
}

// DefaultRegistry is the process-wide registry used when a root has none
var DefaultRegistry = NewRegistry()

func RegisterTask(key string, fn TaskFunc) error {
	return DefaultRegistry.RegisterTask(key, fn)
}

func RegisterSymbol(module, name string, fn TaskFunc) error {
	return DefaultRegistry.RegisterTask(SymbolKey(module, name), fn)
}

func RegisterRankFunc(key string, fn RankFunc) error {
	return DefaultRegistry.RegisterRankFunc(key, fn)
}

func RegisterProber(key string, fn ProberFunc) error {
	return DefaultRegistry.RegisterProber(key, fn)
}

func register[F any](mu *sync.RWMutex, m map[string]F, kind, key string, fn F, isNil bool) error {
	if key == "" {
		return errors.BadRequestf("empty %s key", kind)
	}
	if isNil {
		return errors.BadRequestf("%s %s is nil", kind, key)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := m[key]; exists {
		return errors.AlreadyExistsf("%s %s", kind, key)
	}
	m[key] = fn
	return nil
}

func (r *Registry) RegisterTask(key string, fn TaskFunc) error {
	return register(&r.mu, r.tasks, "task", key, fn, fn == nil)
}

func (r *Registry) RegisterRankFunc(key string, fn RankFunc) error {
	return register(&r.mu, r.ranks, "rank function", key, fn, fn == nil)
}

func (r *Registry) RegisterProber(key string, fn ProberFunc) error {
	return register(&r.mu, r.probers, "prober", key, fn, fn == nil)
}

func (r *Registry) Task(key string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, exists := r.tasks[key]
	return fn, exists
}

func (r *Registry) RankFunc(key string) (RankFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, exists := r.ranks[key]
	return fn, exists
}

func (r *Registry) Prober(key string) (ProberFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, exists := r.probers[key]
	return fn, exists
}

// Keys lists the registered task keys, sorted
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := lo.Keys(r.tasks)
	sort.Strings(keys)
	return keys
}

// adopt registers a closure under its key unless the key is taken
func (r *Registry) adopt(t *Task) {
	if t == nil || t.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.key]; !exists {
		r.tasks[t.key] = t.fn
	}
}
