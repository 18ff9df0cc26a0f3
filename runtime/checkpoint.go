package runtime

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

const (
	CheckpointPath = "/checkpoint/"
)

// snapshot encodes the whole tree, the caller holds the tree lock
func (r *Root) snapshot() ([]byte, error) {
	cp := &types.Checkpoint{
		Name:    r.name,
		RunID:   r.runID,
		SavedAt: time.Now(),
		Failed:  r.failed.Load(),
		Aborted: r.aborted.Load(),
		Paused:  r.paused.Load(),
		Root:    r.Node.toRecord(),
	}
	b, err := utils.Serialize(cp)
	return b, errors.Annotatef(err, "serialize checkpoint of %s", r.name)
}

func (n *Node) toRecord() *types.NodeRecord {
	record := &types.NodeRecord{
		Cwd:          n.cwd,
		Prober:       n.prober,
		Args:         n.args,
		Init:         n.init.Clone(),
		Data:         n.data.Clone(),
		Concurrent:   n.concurrent,
		StartTime:    n.startTime,
		DispatchTime: n.dispatchTime,
		EndTime:      n.endTime,
	}
	if n.task != nil {
		record.Task = n.task.record()
	}
	if n.inherit != nil {
		if path, attached := n.inherit.indexPath(); attached {
			record.Inherit = &types.InheritLink{Path: path}
		} else {
			log.Warnf("%s inherits from detached node %s, saving it without the link", n.cwd, n.inherit.cwd)
		}
	}
	if n.err != nil {
		record.Error = n.err.Error()
	}
	for _, child := range n.children {
		record.Children = append(record.Children, child.toRecord())
	}
	return record
}

// fromRecord rebuilds the state and subtree of n, inherit links are fixed up afterwards by the caller
func (n *Node) fromRecord(record *types.NodeRecord, links map[*Node][]int) error {
	task, err := taskFromRecord(record.Task)
	if err != nil {
		return errors.Annotatef(err, "restore %s", record.Cwd)
	}
	// keep the closure configured in code when the key still matches
	if task == nil || n.task == nil || n.task.key != task.key {
		n.task = task
	}
	n.cwd = record.Cwd
	n.prober = record.Prober
	n.args = record.Args
	n.init = record.Init
	n.data = record.Data
	n.concurrent = record.Concurrent
	n.startTime = record.StartTime
	n.dispatchTime = record.DispatchTime
	n.endTime = record.EndTime
	n.err = nil
	if record.Error != "" {
		n.err = errors.New(record.Error)
	}
	if n.init == nil {
		n.init = types.Data{}
	}
	if n.data == nil {
		n.data = types.Data{}
	}
	if record.Inherit != nil {
		links[n] = record.Inherit.Path
	}

	n.children = nil
	for _, childRecord := range record.Children {
		child := &Node{root: n.root, parent: n}
		if err := child.fromRecord(childRecord, links); err != nil {
			return errors.Trace(err)
		}
		n.children = append(n.children, child)
	}
	return nil
}

func (r *Root) nodeAt(indexPath []int) (*Node, bool) {
	n := &r.Node
	for _, i := range indexPath {
		if i < 0 || i >= len(n.children) {
			return nil, false
		}
		n = n.children[i]
	}
	return n, true
}

// Save writes the checkpoint of the whole tree. Saves are serialized so a
// slower writer never overwrites a newer snapshot.
// Saving a paused job that is not aborted asks the system to requeue it.
func (r *Root) Save(ctx context.Context) error {
	r.saveMu.Lock()
	r.mu.Lock()
	b, err := r.snapshot()
	r.mu.Unlock()
	if err == nil {
		err = r.store.Set(ctx, CheckpointPath, r.name, b)
	}
	r.saveMu.Unlock()
	if err != nil {
		return errors.Annotatef(err, "save checkpoint of %s", r.name)
	}

	if r.paused.Load() && !r.aborted.Load() {
		r.requeue(ctx)
	}
	return nil
}

func (r *Root) checkpoint(ctx context.Context) {
	if err := r.Save(ctx); err != nil {
		log.Errorf("%v", err)
	}
}

// Restore loads the previous checkpoint of the job once per Root, replacing
// the tree built in code. Without a checkpoint the tree is left as seeded.
// Task keys are not checked here, they are resolved when the task runs.
func (r *Root) Restore(ctx context.Context) error {
	r.restoreMu.Lock()
	defer r.restoreMu.Unlock()
	if r.restored {
		return nil
	}

	b, err := r.store.Get(ctx, CheckpointPath, r.name)
	if err != nil {
		return errors.Annotatef(err, "load checkpoint of %s", r.name)
	}
	if b == nil {
		r.restored = true
		return nil
	}

	cp := &types.Checkpoint{}
	if err := utils.Unserialize(b, cp); err != nil {
		return errors.Annotatef(err, "decode checkpoint of %s", r.name)
	}
	if cp.Root == nil {
		return errors.NotValidf("checkpoint of %s without root", r.name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	links := make(map[*Node][]int)
	workdir := r.cwd
	if err := r.Node.fromRecord(cp.Root, links); err != nil {
		return errors.Trace(err)
	}
	r.cwd = workdir
	for n, indexPath := range links {
		target, exists := r.nodeAt(indexPath)
		if !exists {
			log.Warnf("%s inherits from missing node %v, falling back to its parent", n.cwd, indexPath)
			continue
		}
		n.inherit = target
	}
	r.runID = cp.RunID
	r.restored = true
	log.Infof("restored %s from checkpoint saved at %s", r.name, cp.SavedAt.Format(time.RFC3339))
	return nil
}

// LoadCheckpoint reads the stored checkpoint of name without building a tree, nil when there is none
func LoadCheckpoint(ctx context.Context, s store.Store, name string) (*types.Checkpoint, error) {
	b, err := s.Get(ctx, CheckpointPath, name)
	if err != nil || b == nil {
		return nil, errors.Trace(err)
	}
	cp := &types.Checkpoint{}
	if err := utils.Unserialize(b, cp); err != nil {
		return nil, errors.Annotatef(err, "decode checkpoint of %s", name)
	}
	return cp, nil
}
