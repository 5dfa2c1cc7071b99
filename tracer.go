package orcatrace

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/multierr"
)

// ErrInvalidExternalSpan is returned by WrapSpan when the delegate or the
// external span handle is missing.
var ErrInvalidExternalSpan = errors.New("orcatrace: nil external tracer or span handle")

// Tracer receives finished outer spans. One tracer is active per Tracing
// instance; spans are reported to whichever tracer is active at finish
// time. Implementations must not retain the reported span past the call —
// keep lightweight snapshots instead.
type Tracer interface {
	// ReportSpan is invoked once per finished outer (or parentless) span.
	// It must never block on I/O or panic the caller.
	ReportSpan(span *Span)
	// Close runs the tracer's cleanup exactly once. It must not be called
	// while spans referencing the tracer are still unfinished.
	Close() error
}

// ReporterFunc adapts a plain callback into a simple-reporter Tracer,
// used for direct forwarding to a log sink.
type ReporterFunc func(span *Span)

// ReportSpan invokes the callback.
func (f ReporterFunc) ReportSpan(span *Span) { f(span) }

// Close is a no-op for callback reporters.
func (ReporterFunc) Close() error { return nil }

// ExternalTracer is the full-delegate reporter shape: the host
// application's tracing system owns its own span representation, opaque to
// this engine, keyed by the handles it returns from StartSpan.
type ExternalTracer interface {
	StartSpan(operation Key, parent interface{}) interface{}
	EndSpan(handle interface{})
	DestroySpan(handle interface{})
	AddTagString(handle interface{}, name Tag, value string)
	AddTagUint64(handle interface{}, name Tag, value uint64)
}

// NewExternalTracer wraps an external delegate as a Tracer. Reported spans
// are replayed into the delegate: start, tags, end, destroy. Double and
// boolean tags are converted to the delegate's string/uint64 vocabulary.
func NewExternalTracer(delegate ExternalTracer) Tracer {
	if delegate == nil {
		return nil
	}
	return &externalAdapter{delegate: delegate}
}

type externalAdapter struct {
	delegate  ExternalTracer
	closeOnce sync.Once
}

func (a *externalAdapter) ReportSpan(span *Span) {
	handle := a.delegate.StartSpan(span.Operation(), nil)
	ext := &externalHandle{delegate: a.delegate, handle: handle}
	for _, v := range span.Tags().Values() {
		ext.addTag(v)
	}
	a.delegate.EndSpan(handle)
	a.delegate.DestroySpan(handle)
}

func (a *externalAdapter) Close() error {
	a.closeOnce.Do(func() {})
	return nil
}

// NewTracer creates a built-in tracer variant for the given flags.
// It returns nil when no implementation backs the requested combination;
// in particular TracerExternal needs a delegate and must be built with
// NewExternalTracer. A nil tracer simply disables reporting — it never
// fails the caller's operation.
func NewTracer(flags TracerFlags, cfg ThresholdLoggingConfig, sink Sink) Tracer {
	if flags == TracerThreshold {
		return NewThresholdOrphanTracer(cfg, sink)
	}
	return nil
}

// tracerSlot boxes the active Tracer so it can sit behind atomic.Pointer.
type tracerSlot struct {
	tracer Tracer
}

// Tracing is the per-client-instance owner of the active tracer and the
// span creation entry points used by the surrounding request layer. There
// is no process-wide tracing state; every client instance carries its own.
//
// Safe for concurrent use by multiple goroutines.
type Tracing struct {
	spanIDPool  *IDPool
	traceIDPool *IDPool
	clock       clockz.Clock
	metrics     *Metrics
	panicHook   func(r interface{})
	active      atomic.Pointer[tracerSlot]
	idPoolOnce  sync.Once
	closeOnce   sync.Once
}

// Option configures a Tracing instance.
type Option func(*Tracing)

// WithClock injects a clock for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracing) {
		t.clock = clock
	}
}

// WithTracer sets the initially active tracer.
func WithTracer(tracer Tracer) Option {
	return func(t *Tracing) {
		t.active.Store(&tracerSlot{tracer: tracer})
	}
}

// WithMetrics attaches self-metrics counters.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracing) {
		t.metrics = m
	}
}

// New creates a Tracing instance. With no options it uses the real clock
// and reports to no tracer.
func New(opts ...Option) *Tracing {
	t := &Tracing{
		clock: clockz.RealClock,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracing) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100
		t.spanIDPool = NewIDPool(poolSize, randomID)
		t.traceIDPool = NewIDPool(poolSize, randomID)
	})
}

// SetTracer swaps the active tracer. Spans already created keep tracking
// this instance and are reported to whichever tracer is active when they
// finish. Closing the replaced tracer is the caller's responsibility, and
// must wait until its spans have finished.
func (t *Tracing) SetTracer(tracer Tracer) {
	t.active.Store(&tracerSlot{tracer: tracer})
}

// Tracer returns the currently active tracer, or nil.
func (t *Tracing) Tracer() Tracer {
	if slot := t.active.Load(); slot != nil {
		return slot.tracer
	}
	return nil
}

// SetPanicHook sets a function called when the active tracer panics during
// a report. Without a hook such panics are swallowed: loss of a span must
// never fail the traced operation.
func (t *Tracing) SetPanicHook(hook func(r interface{})) {
	t.panicHook = hook
}

// StartSpan creates a span for the given operation, parented to parent
// when non-nil. Pass NowTimestamp to record the current clock time, or an
// explicit microsecond timestamp. The trace ID is inherited from the
// parent's chain; a parentless span roots a fresh trace.
func (t *Tracing) StartSpan(operation Key, now Timestamp, parent *Span) *Span {
	t.ensureIDPools()

	ts := now
	if ts == NowTimestamp {
		ts = t.now()
	}

	span := &Span{
		owner:     t,
		parent:    parent,
		tags:      NewTagTable(),
		operation: operation,
		spanID:    t.spanIDPool.Get(),
		startTS:   ts,
	}
	if parent != nil {
		span.traceID = parent.traceID
	} else {
		span.traceID = t.traceIDPool.Get()
	}

	t.metrics.incSpansStarted()
	return span
}

// WrapSpan creates a lightweight span around an externally-created span
// handle. Tag and finish calls are forwarded to the delegate, and Destroy
// releases the external handle exactly once. Wrapped spans skip the
// internal propagation and reporting paths.
func (t *Tracing) WrapSpan(delegate ExternalTracer, operation Key, start Timestamp, handle interface{}) (*Span, error) {
	if delegate == nil || handle == nil {
		return nil, ErrInvalidExternalSpan
	}
	t.ensureIDPools()

	ts := start
	if ts == NowTimestamp {
		ts = t.now()
	}

	span := &Span{
		owner:     t,
		tags:      NewTagTable(),
		ext:       &externalHandle{delegate: delegate, handle: handle},
		operation: operation,
		spanID:    t.spanIDPool.Get(),
		traceID:   t.traceIDPool.Get(),
		startTS:   ts,
	}
	t.metrics.incSpansStarted()
	return span, nil
}

// reportSpan hands a finished outer span to the active tracer. Reporter
// panics are contained here.
func (t *Tracing) reportSpan(span *Span) {
	t.metrics.incSpansFinished()

	tracer := t.Tracer()
	if tracer == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if t.panicHook != nil {
				t.panicHook(r)
			}
		}
	}()
	tracer.ReportSpan(span)
	t.metrics.incOuterReported()
}

// now returns the current clock reading as a Timestamp.
func (t *Tracing) now() Timestamp {
	return timestampOf(t.clock.Now())
}

// Close shuts down the instance: ID pools stop refilling and the active
// tracer is closed. Spans must be finished before Close.
func (t *Tracing) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.spanIDPool != nil {
			t.spanIDPool.Close()
		}
		if t.traceIDPool != nil {
			t.traceIDPool.Close()
		}
		if tracer := t.Tracer(); tracer != nil {
			err = multierr.Append(err, tracer.Close())
		}
		t.active.Store(&tracerSlot{})
	})
	return err
}
