package runtime

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow/types"
)

// Ticket is one admission request, counted in whole nodes
type Ticket struct {
	id      uint64
	units   int
	granted chan struct{}
}

func (t *Ticket) Units() int {
	return t.units
}

// Scheduler admits parallel launches against a fixed number of nodes.
// A request either fits in the free units and runs at once, or waits in
// the pending queue. Every release rescans the queue largest first, ties
// going to the earlier request, and grants each ticket that still fits.
type Scheduler struct {
	mu sync.Mutex

	total       int
	cpusPerNode int
	gpusPerNode int

	nextID  uint64
	pending []*Ticket
	running map[uint64]*Ticket
}

func NewScheduler(total, cpusPerNode, gpusPerNode int) *Scheduler {
	return &Scheduler{
		total:       total,
		cpusPerNode: cpusPerNode,
		gpusPerNode: gpusPerNode,
		running:     make(map[uint64]*Ticket),
	}
}

func (s *Scheduler) Total() int {
	return s.total
}

func (s *Scheduler) CPUsPerNode() int {
	return s.cpusPerNode
}

func (s *Scheduler) GPUsPerNode() int {
	return s.gpusPerNode
}

// Units converts a launch into nodes: the larger of the cpu and gpu demand,
// each rounded up, and never less than one node.
// Asking for more than the job owns is a FatalError.
func (s *Scheduler) Units(nprocs int, cpusPerProc, gpusPerProc float64) (int, error) {
	if nprocs < 1 {
		return 0, errors.BadRequestf("nprocs %d", nprocs)
	}
	if cpusPerProc < 0 || gpusPerProc < 0 {
		return 0, errors.BadRequestf("negative resources per process")
	}

	units := 1
	if cpusPerProc > 0 {
		if s.cpusPerNode <= 0 {
			return 0, types.NewFatalErrorf("cpus requested but nodes have no cpus")
		}
		units = max(units, int(math.Ceil(float64(nprocs)*cpusPerProc/float64(s.cpusPerNode))))
	}
	if gpusPerProc > 0 {
		if s.gpusPerNode <= 0 {
			return 0, types.NewFatalErrorf("gpus requested but nodes have no gpus")
		}
		units = max(units, int(math.Ceil(float64(nprocs)*gpusPerProc/float64(s.gpusPerNode))))
	}
	if units > s.total {
		return 0, types.NewFatalErrorf("%d nodes requested but the job owns %d", units, s.total)
	}
	return units, nil
}

// Acquire blocks until units are granted, a cancelled ctx withdraws the request
func (s *Scheduler) Acquire(ctx context.Context, units int) (*Ticket, error) {
	if units < 1 {
		return nil, errors.BadRequestf("units %d", units)
	}
	if units > s.total {
		return nil, types.NewFatalErrorf("%d nodes requested but the job owns %d", units, s.total)
	}

	s.mu.Lock()
	s.nextID++
	t := &Ticket{id: s.nextID, units: units, granted: make(chan struct{})}
	if free := s.free(); units <= free {
		s.grant(t)
		s.mu.Unlock()
		log.WithFields(log.Fields{"ticket": t.id, "units": units, "free": free}).Debug("granted")
		return t, nil
	}
	s.pending = append(s.pending, t)
	log.WithFields(log.Fields{"ticket": t.id, "units": units, "free": s.free()}).Debug("enqueued")
	s.mu.Unlock()

	select {
	case <-t.granted:
		return t, nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, granted := s.running[t.id]; granted {
		delete(s.running, t.id)
	} else {
		s.pending = lo.Reject(s.pending, func(p *Ticket, _ int) bool { return p == t })
	}
	s.rescan()
	return nil, errors.Trace(ctx.Err())
}

func (s *Scheduler) Release(t *Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.running[t.id]; !exists {
		return
	}
	delete(s.running, t.id)
	s.rescan()
}

func (s *Scheduler) grant(t *Ticket) {
	s.running[t.id] = t
	close(t.granted)
}

func (s *Scheduler) free() int {
	return s.total - s.used()
}

func (s *Scheduler) used() int {
	return lo.SumBy(lo.Values(s.running), func(t *Ticket) int { return t.units })
}

func (s *Scheduler) rescan() {
	if len(s.pending) == 0 {
		return
	}
	order := append([]*Ticket(nil), s.pending...)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].units != order[j].units {
			return order[i].units > order[j].units
		}
		return order[i].id < order[j].id
	})

	granted := make(map[uint64]bool)
	for _, t := range order {
		if free := s.free(); t.units <= free {
			s.grant(t)
			granted[t.id] = true
			log.WithFields(log.Fields{"ticket": t.id, "units": t.units, "free": free}).Debug("granted")
		}
	}
	s.pending = lo.Reject(s.pending, func(t *Ticket, _ int) bool { return granted[t.id] })
}

// Pending lists the units of queued tickets in request order
func (s *Scheduler) Pending() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.pending, func(t *Ticket, _ int) int { return t.units })
}

func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Scheduler) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used()
}
