package orcatrace

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// TracerState is the aggregation state of a ThresholdOrphanTracer.
type TracerState uint8

const (
	// StateIdle means nothing has been retained since the last flush.
	StateIdle TracerState = iota
	// StateAccumulating means spans are being collected for the next flush.
	StateAccumulating
	// StateFlushing means a summary is being assembled; spans reported
	// meanwhile accumulate into the next window.
	StateFlushing
)

// String returns the state name.
func (s TracerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// bucket is a bounded retention list ordered by descending duration.
// Ties keep the earlier insertion; the list never exceeds its limit.
type bucket struct {
	entries []SummaryEntry
	count   uint64
	limit   int
}

func (b *bucket) insert(e SummaryEntry) {
	b.count++
	// First position with a strictly smaller duration; equal durations
	// sort before the new entry, so on truncation the newcomer loses.
	i := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].TotalDurationUS < e.TotalDurationUS
	})
	if i >= b.limit {
		return
	}
	if len(b.entries) < b.limit {
		b.entries = append(b.entries, SummaryEntry{})
	}
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = e
}

func (b *bucket) reset() {
	b.entries = nil
	b.count = 0
}

// ThresholdOrphanTracer is the built-in Tracer that buckets finished outer
// spans by service, retains the slowest and the orphaned ones per flush
// window, and periodically emits a Summary to its Sink.
//
// Spans below their service's threshold and not orphaned are discarded on
// a lock-free fast path. Retention holds lightweight SummaryEntry
// snapshots, never the reported Span.
type ThresholdOrphanTracer struct {
	sink    Sink
	metrics *Metrics
	cfg     ThresholdLoggingConfig

	mu      sync.Mutex
	state   TracerState
	buckets [numServices + 1]bucket
	orphans bucket

	stopCh    chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewThresholdOrphanTracer creates the tracer and, when the configured
// flush interval is positive, starts its background flush loop. A nil sink
// falls back to a no-op log sink.
func NewThresholdOrphanTracer(cfg ThresholdLoggingConfig, sink Sink) *ThresholdOrphanTracer {
	if sink == nil {
		sink = NewLogSink(nil)
	}
	if cfg.SampleSize < 1 {
		cfg.SampleSize = DefaultThresholdLoggingConfig().SampleSize
	}
	if cfg.OrphanSampleSize < 1 {
		cfg.OrphanSampleSize = DefaultThresholdLoggingConfig().OrphanSampleSize
	}

	t := &ThresholdOrphanTracer{
		sink:   sink,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := range t.buckets {
		t.buckets[i].limit = cfg.SampleSize
	}
	t.orphans.limit = cfg.OrphanSampleSize

	if cfg.FlushInterval > 0 {
		go t.run()
	} else {
		close(t.done)
	}
	return t
}

// WithMetrics attaches self-metrics counters. Call before reporting spans.
func (t *ThresholdOrphanTracer) WithMetrics(m *Metrics) *ThresholdOrphanTracer {
	t.metrics = m
	return t
}

// State returns the current aggregation state.
func (t *ThresholdOrphanTracer) State() TracerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ReportSpan classifies a finished outer span into its service bucket and
// the orphan list. Below-threshold, non-orphaned spans are discarded
// without taking the accumulator lock.
func (t *ThresholdOrphanTracer) ReportSpan(span *Span) {
	if span == nil || !span.Finished() || t.closed.Load() {
		return
	}

	dur := span.Duration()
	overThreshold := dur > microseconds(t.cfg.thresholdFor(span.Service()))
	orphaned := span.Orphaned()

	// Fast path: nothing to retain.
	if !overThreshold && !orphaned {
		t.metrics.incSpansDiscarded()
		return
	}

	entry := newSummaryEntry(span, dur)

	t.mu.Lock()
	if overThreshold {
		t.buckets[int(span.Service())].insert(entry)
		t.metrics.incSpansRetained()
	}
	if orphaned {
		t.orphans.insert(entry)
		t.metrics.incOrphansRetained()
	}
	if t.state == StateIdle {
		t.state = StateAccumulating
	}
	t.mu.Unlock()
}

// FlushNow assembles a Summary from the current window, clears the
// accumulators and hands the summary to the sink. It returns nil when the
// window retained nothing. Spans reported while the sink runs land in the
// next window.
func (t *ThresholdOrphanTracer) FlushNow() (*Summary, error) {
	t.mu.Lock()
	t.state = StateFlushing

	var summary *Summary
	for svc := 0; svc < len(t.buckets); svc++ {
		b := &t.buckets[svc]
		if b.count == 0 {
			continue
		}
		if summary == nil {
			summary = &Summary{}
		}
		summary.Services = append(summary.Services, ServiceSummary{
			Service: Service(svc).String(),
			Count:   b.count,
			Top:     b.entries,
		})
		b.reset()
	}
	if t.orphans.count > 0 {
		if summary == nil {
			summary = &Summary{}
		}
		summary.Orphans = OrphanSummary{
			Count: t.orphans.count,
			Top:   t.orphans.entries,
		}
		t.orphans.reset()
	}

	t.state = StateIdle
	t.mu.Unlock()

	if summary == nil {
		return nil, nil
	}
	err := t.sink.Emit(summary)
	t.metrics.incFlushes()
	return summary, err
}

// run drives the periodic flush until Close.
func (t *ThresholdOrphanTracer) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.FlushNow() //nolint:errcheck // sink errors surface on Close
		}
	}
}

// Close stops the flush loop, emits whatever the final window holds and
// closes the sink. Safe to call once; further reports are dropped.
func (t *ThresholdOrphanTracer) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.stopCh)
		<-t.done

		_, flushErr := t.FlushNow()
		t.closeErr = multierr.Append(flushErr, t.sink.Close())
	})
	return t.closeErr
}

// newSummaryEntry snapshots the parts of a span the summary needs; the
// span itself is never retained.
func newSummaryEntry(span *Span, dur uint64) SummaryEntry {
	e := SummaryEntry{
		Operation:       span.Operation(),
		Service:         span.Service().String(),
		TotalDurationUS: dur,
		Orphaned:        span.Orphaned(),
		Tags:            span.Tags().Snapshot(),
	}
	e.EncodeDurationUS, _ = span.Uint64Tag(TagTotalEncodeDuration)
	e.ServerDurationUS, _ = span.Uint64Tag(TagPeerLatency)
	e.OperationID, _ = span.StringTag(TagOperationID)
	e.LocalAddress = joinAddress(span, TagLocalAddress, TagLocalPort)
	e.PeerAddress = joinAddress(span, TagPeerAddress, TagPeerPort)
	return e
}

func joinAddress(span *Span, hostTag, portTag Tag) string {
	host, ok := span.StringTag(hostTag)
	if !ok {
		return ""
	}
	if port, ok := span.Uint64Tag(portTag); ok {
		return net.JoinHostPort(host, strconv.FormatUint(port, 10))
	}
	return host
}
