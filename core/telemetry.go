package core

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Span delimits one semantic step (spec.md §2, C9; Glossary "Span"). It
// carries the declared tick budget, the measured cost, and whether the
// budget was exceeded — recorded as data per spec.md §7, never as a
// control-flow abort.
type Span struct {
	ID            string
	Name          string
	StartTick     uint64
	EndTick       uint64
	DeclaredBudget uint64
	Exceeded      bool
}

// Measured returns the observed tick cost of the span.
func (s Span) Measured() uint64 { return s.EndTick - s.StartTick }

// Recorder consumes finished spans and counter increments. The default
// implementation (Telemetry) emits structured records through zap and
// keeps atomic counters; spec.md §1 excludes any wire format for
// *exporting* these records, so Recorder has exactly one concrete,
// in-process implementation.
type Recorder interface {
	RecordSpan(Span)
	IncrCounter(name string, delta int64)
	Counter(name string) int64
}

// Telemetry is the concrete C9 contract consumed by C2-C6: a tick counter,
// a span recorder, and the operational counters named throughout spec.md
// (budget_violation, bounded_rejection, false_positive_count, ...).
//
// Grounded on core/storage.go, which threads both a *logrus.Logger and a
// *zap.Logger through its constructor and logs at different granularities
// through each; here zap carries the high-frequency structured span
// records and logrus carries prose-style diagnostic logging (the
// reasoner's conflict warnings and FinishSpan's budget warnings).
type Telemetry struct {
	tick     uint64 // monotonic logical tick counter, advanced by the scheduler
	zap      *zap.Logger
	log      *logrus.Logger
	mu       sync.Mutex // guards counters map insertion; values are atomic
	counters map[string]*int64
}

// NewTelemetry builds a Telemetry instance. A nil zap logger falls back to
// zap.NewNop(); a nil logrus logger falls back to logrus.StandardLogger().
func NewTelemetry(z *zap.Logger, l *logrus.Logger) *Telemetry {
	if z == nil {
		z = zap.NewNop()
	}
	if l == nil {
		l = logrus.StandardLogger()
	}
	t := &Telemetry{zap: z, log: l, counters: make(map[string]*int64, 16)}
	for _, name := range []string{
		"budget_violation", "bounded_rejection", "false_positive_count",
		"mailbox_overflow", "restart_count", "cancel_requested",
	} {
		v := int64(0)
		t.counters[name] = &v
	}
	return t
}

// Tick returns the current logical tick count.
func (t *Telemetry) Tick() uint64 { return atomic.LoadUint64(&t.tick) }

// Advance moves the logical tick counter forward by n and returns the new
// value. Scheduler.Step calls this once per scheduler step.
func (t *Telemetry) Advance(n uint64) uint64 {
	return atomic.AddUint64(&t.tick, n)
}

// StartSpan begins a span named name at the current tick with the given
// declared budget.
func (t *Telemetry) StartSpan(name string, budget uint64) Span {
	return Span{ID: uuid.NewString(), Name: name, StartTick: t.Tick(), DeclaredBudget: budget}
}

// FinishSpan closes a span at the current tick and records it. If the
// measured cost exceeds the declared budget, it increments
// budget_violation and logs at Warn — the step itself is still allowed to
// complete (spec.md §5, "Exceedance... does not abort").
func (t *Telemetry) FinishSpan(s Span) Span {
	s.EndTick = t.Tick()
	if s.Measured() > s.DeclaredBudget {
		s.Exceeded = true
		t.IncrCounter("budget_violation", 1)
		t.log.WithFields(logrus.Fields{
			"span": s.Name, "budget": s.DeclaredBudget, "measured": s.Measured(),
		}).Warn("budget_violation")
	}
	t.RecordSpan(s)
	return s
}

// RecordSpan emits s as a structured zap record.
func (t *Telemetry) RecordSpan(s Span) {
	t.zap.Info("span",
		zap.String("id", s.ID),
		zap.String("name", s.Name),
		zap.Uint64("start", s.StartTick),
		zap.Uint64("end", s.EndTick),
		zap.Uint64("budget", s.DeclaredBudget),
		zap.Bool("exceeded", s.Exceeded),
	)
}

// IncrCounter adds delta to the named counter, creating it at zero first
// if unseen. Map lookup/insertion is serialized with mu since Telemetry is
// shared across goroutines by RunSchedulers; the counter value itself is
// still updated with a plain atomic add.
func (t *Telemetry) IncrCounter(name string, delta int64) {
	t.mu.Lock()
	v, ok := t.counters[name]
	if !ok {
		nv := int64(0)
		v = &nv
		t.counters[name] = v
	}
	t.mu.Unlock()
	atomic.AddInt64(v, delta)
}

// Counter returns the current value of the named counter.
func (t *Telemetry) Counter(name string) int64 {
	t.mu.Lock()
	v, ok := t.counters[name]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// Logger exposes the prose-style logrus logger for diagnostics; the
// reasoner logs its conflict warnings through it.
func (t *Telemetry) Logger() *logrus.Logger { return t.log }
