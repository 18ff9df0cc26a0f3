package types

type StatusType int32

const (
	None    StatusType = 0
	Pending StatusType = 1
	Running StatusType = 2
	Failed  StatusType = 5
	Aborted StatusType = 9
	Done    StatusType = 10
)

func (s StatusType) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	case Done:
		return "done"
	default:
		return "none"
	}
}

// Concurrency is the tri-state flag deciding how the children of a node run.
// Inherit means the node did not set it, the parent's setting applies.
type Concurrency int8

const (
	Inherit    Concurrency = 0
	Sequential Concurrency = 1
	Concurrent Concurrency = 2
)

func ConcurrencyOf(concurrent bool) Concurrency {
	if concurrent {
		return Concurrent
	}
	return Sequential
}
