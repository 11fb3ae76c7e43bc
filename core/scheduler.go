package core

import (
	"context"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"
)

// FiberState is a fiber's lifecycle state (spec.md §5).
type FiberState int

const (
	Runnable FiberState = iota
	Dormant
	Collapsed
)

// SupervisionStrategy selects restart behavior on collapse (spec.md §5.1).
type SupervisionStrategy int

const (
	Permanent SupervisionStrategy = iota
	Temporary
	Transient
)

// CollapseCause distinguishes an expected fault (eligible for Transient
// restart) from any other collapse reason (spec.md §5.1: "Transient ->
// restart iff the collapse cause is an expected fault").
type CollapseCause int

const (
	CauseNone CollapseCause = iota
	CauseExplicitCollapse
	CauseMailboxOverflow
	CauseCancel
	CauseTimeout
	CauseUnrecoverable
)

func (c CollapseCause) expectedFault() bool {
	return c == CauseMailboxOverflow || c == CauseTimeout
}

// Fiber is a compiled actor program bound to a register snapshot, a
// mailbox, and a supervision link (spec.md §5: "each is a compiled actor
// program + register snapshot + mailbox head/tail + a link to its
// supervising record").
type Fiber struct {
	ID         EntityID
	Program    *Program
	Regs       Registers
	Mailbox    *Mailbox
	State      FiberState
	Strategy   SupervisionStrategy
	Generation uint64 // bumped on every restart; invalidates stale entanglement indices

	timeoutTicks uint64 // 0 means no timeout configured
	ticksAlive   uint64
}

func newFiber(id EntityID, prog *Program, strategy SupervisionStrategy, mailbox *Mailbox) *Fiber {
	f := &Fiber{ID: id, Program: prog, Strategy: strategy, Mailbox: mailbox}
	f.Regs[PCReg] = 0
	return f
}

func (f *Fiber) reset() {
	f.Regs = Registers{}
	f.Generation++
	f.State = Runnable
	f.ticksAlive = 0
}

// EntanglementEdge is a directed signal-propagation link between two
// fibers (spec.md §5: "(source_fiber, target_fiber, trigger_mask,
// response_pattern, signal_strength, flags)").
type EntanglementEdge struct {
	Source, Target EntityID
	TriggerMask    uint64
	ResponsePattern uint64
	SignalStrength uint64
	Flags          uint32
}

// pendingSignal is one entry in the scheduler's signal ring, carrying a
// remaining hop count (spec.md §5, MAX_HOPS propagation).
type pendingSignal struct {
	edge     EntanglementEdge
	hopsLeft int
}

// SupervisorRecord enforces a restart budget (max N restarts per T ticks)
// for the fibers linked to it (spec.md §5.1).
type SupervisorRecord struct {
	MaxRestarts int
	WindowTicks uint64

	restarts     map[EntityID]int
	windowStart  uint64
	escalated    bool
}

func newSupervisorRecord(maxRestarts int, windowTicks uint64) *SupervisorRecord {
	return &SupervisorRecord{MaxRestarts: maxRestarts, WindowTicks: windowTicks, restarts: make(map[EntityID]int)}
}

func (s *SupervisorRecord) restartCount(id EntityID) int { return s.restarts[id] }

// admitRestart returns true if id may restart within the current window,
// resetting the window and counters when WindowTicks has elapsed.
func (s *SupervisorRecord) admitRestart(id EntityID, now uint64) bool {
	if now-s.windowStart >= s.WindowTicks {
		s.windowStart = now
		s.restarts = make(map[EntityID]int)
		s.escalated = false
	}
	if s.restarts[id] >= s.MaxRestarts {
		s.escalated = true
		return false
	}
	s.restarts[id]++
	return true
}

// Scheduler is a single cooperative, single-threaded fiber scheduler
// (spec.md §5: "Cooperative, single-threaded per scheduler instance").
// Multiple Scheduler instances may run on separate goroutines over
// disjoint fiber sets (spec.md §5, "Threading model"); RunSchedulers
// below drives several instances that way, one goroutine each.
//
// Grounded on core/replication.go's round-robin peer-selection loop,
// generalized from "next peer to sync" to "next runnable fiber".
type Scheduler struct {
	vm  *VM
	tel *Telemetry

	arena     *Arena     // backs every fiber's mailbox buffer (spec.md §3)
	arenaBase Checkpoint // restore point for Teardown

	fibers    []*Fiber
	dormant   *bitset.BitSet // bit i set iff fibers[i] has no queued messages and no expired timer
	cursor    int
	signals   []pendingSignal
	edges     []EntanglementEdge
	supervisors map[EntityID]*SupervisorRecord

	tickBudget int
	maxHops    int
	maxDequeue int

	boundedRejections uint64
	mailboxOverflow   uint64
}

// maxSchedulerFibers bounds the headroom reserved in the scheduler's arena
// for fiber mailbox buffers; Spawn beyond this falls back to heap-backed
// mailboxes (see Arena.AllocMessages).
const maxSchedulerFibers = 64

// schedulerArenaBytes sizes the arena backing every fiber's mailbox ring
// buffer, assuming MailboxCapacity-sized mailboxes for up to
// maxSchedulerFibers fibers.
func schedulerArenaBytes() int {
	var m Message
	return int(unsafe.Sizeof(m)) * MailboxCapacity * maxSchedulerFibers
}

// NewScheduler creates a scheduler bound to vm for bytecode execution and
// tel for telemetry/logging.
func NewScheduler(vm *VM, tel *Telemetry) *Scheduler {
	arena := NewArena(schedulerArenaBytes())
	return &Scheduler{
		vm: vm, tel: tel,
		arena:       arena,
		arenaBase:   arena.Save(),
		dormant:     bitset.New(0),
		supervisors: make(map[EntityID]*SupervisorRecord),
		tickBudget:  TickBudget,
		maxHops:     MaxHops,
		maxDequeue:  MaxDequeuePerStep,
	}
}

// Spawn adds a fiber running prog under the given supervision strategy,
// with a mailbox of mailboxCap slots carved out of the scheduler's arena,
// and returns its index.
func (s *Scheduler) Spawn(id EntityID, prog *Program, strategy SupervisionStrategy, mailboxCap int) int {
	mailbox := NewMailboxFromBuffer(s.arena.AllocMessages(mailboxCap))
	f := newFiber(id, prog, strategy, mailbox)
	s.fibers = append(s.fibers, f)
	idx := len(s.fibers) - 1
	s.dormant.Set(uint(idx))
	return idx
}

// Teardown releases every fiber (spec.md §3, "fiber state lives in the
// scheduler's arena, reclaimed at teardown") by dropping the fiber table
// and restoring the arena to the checkpoint captured at construction,
// making its memory available to a subsequent generation of Spawn calls.
func (s *Scheduler) Teardown() {
	s.fibers = nil
	s.dormant = bitset.New(0)
	s.cursor = 0
	s.signals = nil
	s.arena.Restore(s.arenaBase)
}

// Supervise attaches a SupervisorRecord for sup's fibers (identified by
// the ids passed to subsequent restarts).
func (s *Scheduler) Supervise(sup EntityID, maxRestarts int, windowTicks uint64) {
	s.supervisors[sup] = newSupervisorRecord(maxRestarts, windowTicks)
}

// Link records a directed entanglement edge (spec.md §5).
func (s *Scheduler) Link(edge EntanglementEdge) {
	s.edges = append(s.edges, edge)
}

// Cancel requests a fiber collapse at its next cooperative yield (spec.md
// §5.1: "transitions to Collapsed at its next cooperative yield").
func (s *Scheduler) Cancel(idx int) {
	if idx < 0 || idx >= len(s.fibers) {
		return
	}
	s.fibers[idx].State = Collapsed
	s.tel.IncrCounter("fiber_cancelled", 1)
}

// Step runs one scheduler step (spec.md §5, "Step"): select the next
// runnable fiber round-robin, execute it to its yield point, drain
// outbound signals into the entanglement table, propagate them up to
// maxHops, and apply supervision on collapse. Returns false when no
// fiber is runnable.
func (s *Scheduler) Step() bool {
	idx, ok := s.selectRunnable()
	if !ok {
		return false
	}
	f := s.fibers[idx]
	s.tel.Advance(1)

	res := s.vm.Step(&f.Regs, f.Program, uint8(s.tickBudget))
	f.ticksAlive += uint64(res.TicksUsed)
	if res.OverBudget {
		s.tel.IncrCounter("budget_violation", 1)
	}

	f.Mailbox.Drain(s.maxDequeue, func(Message) {})

	if res.Collapsed {
		s.onCollapse(idx, CauseExplicitCollapse)
	} else if f.State == Collapsed {
		s.onCollapse(idx, CauseCancel)
	} else if f.Mailbox.Empty() {
		s.dormant.Set(uint(idx))
	}

	s.drainSignals(idx)
	s.propagateSignals()
	return true
}

func (s *Scheduler) selectRunnable() (int, bool) {
	n := len(s.fibers)
	if n == 0 {
		return 0, false
	}
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		f := s.fibers[idx]
		if f.State == Collapsed {
			continue
		}
		if !s.dormant.Test(uint(idx)) || !f.Mailbox.Empty() {
			s.cursor = (idx + 1) % n
			s.dormant.Clear(uint(idx))
			return idx, true
		}
	}
	return 0, false
}

// drainSignals converts ENTANGLE instruction effects on fiber idx (its
// dst register after the step, by convention R0) into queued signals
// along every outbound edge.
func (s *Scheduler) drainSignals(idx int) {
	src := s.fibers[idx].ID
	for _, e := range s.edges {
		if e.Source != src {
			continue
		}
		if s.fibers[idx].Regs[0]&e.TriggerMask == 0 {
			continue
		}
		s.signals = append(s.signals, pendingSignal{edge: e, hopsLeft: s.maxHops})
	}
}

// propagateSignals delivers queued signals to their target fibers'
// mailboxes, then continues propagation onward along the target's own
// outbound edges (spec.md §5, "a signal may hop across up to MAX_HOPS
// entanglement edges before it is dropped") rather than re-delivering the
// same edge — each hop walks the entanglement graph one edge further.
// A signal that exhausts its hop budget, whether before its first delivery
// or while an onward edge exists to carry it further, is counted as a
// bounded_rejection (spec.md §5, P8).
func (s *Scheduler) propagateSignals() {
	pending := s.signals
	s.signals = nil
	for _, sig := range pending {
		if sig.hopsLeft <= 0 {
			s.boundedRejections++
			s.tel.IncrCounter("bounded_rejection", 1)
			continue
		}
		targetIdx := s.indexOf(sig.edge.Target)
		if targetIdx < 0 {
			continue
		}
		msg := Message{Kind: uint8(sig.edge.Flags), Len: 8}
		if !s.fibers[targetIdx].Mailbox.Send(msg) {
			s.mailboxOverflow++
			s.tel.IncrCounter("mailbox_overflow", 1)
			continue
		}
		s.dormant.Clear(uint(targetIdx))

		remainingHops := sig.hopsLeft - 1
		for _, e := range s.edges {
			if e.Source != sig.edge.Target {
				continue
			}
			if remainingHops <= 0 {
				s.boundedRejections++
				s.tel.IncrCounter("bounded_rejection", 1)
				continue
			}
			s.signals = append(s.signals, pendingSignal{edge: e, hopsLeft: remainingHops})
		}
	}
}

func (s *Scheduler) indexOf(id EntityID) int {
	for i, f := range s.fibers {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// onCollapse applies supervision policy to the fiber at idx (spec.md
// §5.1): Permanent restarts unconditionally, Temporary stays collapsed,
// Transient restarts only for an expected-fault cause.
func (s *Scheduler) onCollapse(idx int, cause CollapseCause) {
	f := s.fibers[idx]
	f.State = Collapsed
	restart := false
	switch f.Strategy {
	case Permanent:
		restart = true
	case Transient:
		restart = cause.expectedFault()
	case Temporary:
		restart = false
	}
	if !restart {
		return
	}
	for _, sup := range s.supervisors {
		if !sup.admitRestart(f.ID, s.tel.Tick()) {
			s.tel.IncrCounter("restart_budget_exceeded", 1)
			return
		}
	}
	f.reset()
	s.dormant.Clear(uint(idx))
	s.tel.IncrCounter("fiber_restart", 1)
}

// RestartCount reports how many times sup has restarted fiber id, for
// scenario S6's assertion.
func (s *Scheduler) RestartCount(sup, id EntityID) int {
	rec, ok := s.supervisors[sup]
	if !ok {
		return 0
	}
	return rec.restartCount(id)
}

// FiberState reports a fiber's current lifecycle state by index.
func (s *Scheduler) FiberState(idx int) FiberState { return s.fibers[idx].State }

// BoundedRejections and MailboxOverflows expose the scheduler's failure
// counters (spec.md §5, "Failure semantics").
func (s *Scheduler) BoundedRejections() uint64 { return s.boundedRejections }
func (s *Scheduler) MailboxOverflows() uint64  { return s.mailboxOverflow }

// RunSchedulers drives each of schedulers concurrently, one goroutine per
// instance, stepping it until it reports no runnable fiber (spec.md §5,
// "Threading model": disjoint fiber sets may run on separate goroutines).
// It returns once every scheduler has drained.
func RunSchedulers(ctx context.Context, schedulers []*Scheduler) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sched := range schedulers {
		sched := sched
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if !sched.Step() {
					return nil
				}
			}
		})
	}
	return g.Wait()
}
