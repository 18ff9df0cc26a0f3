package types

import "time"

// NodeRecord is the checkpointed form of a task node, children included.
// Zero times mean unset.
type NodeRecord struct {
	Cwd          string        `json:"cwd"`
	Task         *TaskRecord   `json:"task,omitempty"`
	Prober       string        `json:"prober,omitempty"`
	Args         []any         `json:"args,omitempty"`
	Init         Data          `json:"init,omitempty"`
	Data         Data          `json:"data,omitempty"`
	Inherit      *InheritLink  `json:"inherit,omitempty"`
	Concurrent   Concurrency   `json:"concurrent,omitempty"`
	StartTime    time.Time     `json:"start_time,omitempty"`
	DispatchTime time.Time     `json:"dispatch_time,omitempty"`
	EndTime      time.Time     `json:"end_time,omitempty"`
	Error        string        `json:"error,omitempty"`
	Children     []*NodeRecord `json:"children,omitempty"`
}

// InheritLink points at the node lookups fall through to, an empty Path is the root
type InheritLink struct {
	Path []int `json:"path"`
}

type TaskKind string

const (
	TaskClosure TaskKind = "closure"
	TaskSymbol  TaskKind = "symbol"
	TaskBuiltin TaskKind = "builtin"
)

type TaskRecord struct {
	Kind   TaskKind `json:"kind"`
	Key    string   `json:"key,omitempty"`
	Module string   `json:"module,omitempty"`
	Symbol string   `json:"symbol,omitempty"`
}

// Checkpoint is the document stored for a whole job.
type Checkpoint struct {
	Name    string      `json:"name"`
	RunID   string      `json:"run_id,omitempty"`
	SavedAt time.Time   `json:"saved_at"`
	Failed  bool        `json:"failed,omitempty"`
	Aborted bool        `json:"aborted,omitempty"`
	Paused  bool        `json:"paused,omitempty"`
	Root    *NodeRecord `json:"root"`
}
