package orcatrace

import (
	"fmt"
	"sync"
	"testing"
)

func TestStartSpanIdentity(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	span := tracing.StartSpan("test-operation", 1000, nil)

	if span.Operation() != "test-operation" {
		t.Errorf("Expected operation 'test-operation', got %s", span.Operation())
	}
	if span.SpanID() == 0 {
		t.Error("Expected nonzero SpanID")
	}
	if span.TraceID() == 0 {
		t.Error("Expected nonzero TraceID")
	}
	if span.Parent() != nil {
		t.Error("Expected nil parent for root span")
	}
	if span.StartTS() != 1000 {
		t.Errorf("Expected start ts 1000, got %d", span.StartTS())
	}
	if span.Finished() {
		t.Error("Expected span to be unfinished")
	}
	if span.FinishTS() != 0 {
		t.Errorf("Expected unset finish ts, got %d", span.FinishTS())
	}
}

func TestStartSpanChildInheritsTraceID(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	root := tracing.StartSpan("get", 1000, nil)
	child := tracing.StartSpan("dispatch", 1010, root)
	grandchild := tracing.StartSpan("decode", 1020, child)

	if child.Parent() != root {
		t.Error("Expected child parent to be root")
	}
	if child.TraceID() != root.TraceID() {
		t.Error("Expected child to inherit root trace ID")
	}
	if grandchild.TraceID() != root.TraceID() {
		t.Error("Expected grandchild to inherit root trace ID")
	}
	if child.SpanID() == root.SpanID() {
		t.Error("Expected distinct span IDs")
	}
}

func TestSpanFinishSetsTimestamps(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	span := tracing.StartSpan("get", 1000, nil)
	if err := span.Finish(1120); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if !span.Finished() {
		t.Error("Expected span to be finished")
	}
	if span.FinishTS() != 1120 {
		t.Errorf("Expected finish ts 1120, got %d", span.FinishTS())
	}
	if span.Duration() != 120 {
		t.Errorf("Expected duration 120, got %d", span.Duration())
	}
}

func TestSpanFinishNowClock(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	span := tracing.StartSpan("get", NowTimestamp, nil)
	if err := span.Finish(NowTimestamp); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if span.FinishTS() < span.StartTS() {
		t.Errorf("Expected finish >= start, got %d < %d", span.FinishTS(), span.StartTS())
	}
}

func TestSpanFinishClampsSkewedTimestamp(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	span := tracing.StartSpan("get", 5000, nil)
	if err := span.Finish(4000); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if span.FinishTS() != span.StartTS() {
		t.Errorf("Expected finish clamped to start, got %d", span.FinishTS())
	}
}

func TestSpanDoubleFinishRejected(t *testing.T) {
	capture := &captureTracer{}
	tracing := New(WithTracer(capture))
	defer tracing.Close()

	span := tracing.StartSpan("get", 1000, nil)
	if err := span.Finish(1100); err != nil {
		t.Fatalf("First finish failed: %v", err)
	}
	if err := span.Finish(1200); err != ErrSpanAlreadyFinished {
		t.Errorf("Expected ErrSpanAlreadyFinished, got %v", err)
	}

	if span.FinishTS() != 1100 {
		t.Errorf("Expected first finish to win, got %d", span.FinishTS())
	}
	if got := capture.count(); got != 1 {
		t.Errorf("Expected exactly one report, got %d", got)
	}
}

func TestSpanFlags(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	span := tracing.StartSpan("get", 1000, nil)
	if span.IsOuter() || span.IsEncode() || span.IsDispatch() || span.Orphaned() {
		t.Error("Expected all role flags to default to false")
	}
	if !span.ShouldFinish() {
		t.Error("Expected non-outer span to be auto-finished")
	}

	span.SetOuter(true)
	span.SetEncode(true)
	span.SetDispatch(true)
	span.SetOrphaned(true)

	if !span.IsOuter() || !span.IsEncode() || !span.IsDispatch() || !span.Orphaned() {
		t.Error("Expected all role flags to be set")
	}
	if span.ShouldFinish() {
		t.Error("Expected outer span finish to be caller-managed")
	}
}

func TestSpanServiceSetOnce(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	span := tracing.StartSpan("get", 1000, nil)
	if span.Service() != ServiceUnset {
		t.Error("Expected service to default to unset")
	}

	span.SetService(ServiceKV)
	span.SetService(ServiceQuery)

	if span.Service() != ServiceKV {
		t.Errorf("Expected first classification to stick, got %v", span.Service())
	}
}

func TestSpanTypedTagAccess(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	span := tracing.StartSpan("get", 1000, nil)
	span.SetStringTag("s", "value")
	span.SetUint64Tag("u", 0)
	span.SetDoubleTag("d", 1.25)
	span.SetBoolTag("b", false)

	if v, ok := span.StringTag("s"); !ok || v != "value" {
		t.Errorf("Expected string tag 'value', got %q (%v)", v, ok)
	}
	if v, ok := span.Uint64Tag("u"); !ok || v != 0 {
		t.Errorf("Expected present-but-zero uint64 tag, got %d (%v)", v, ok)
	}
	if v, ok := span.DoubleTag("d"); !ok || v != 1.25 {
		t.Errorf("Expected double tag 1.25, got %v (%v)", v, ok)
	}
	if v, ok := span.BoolTag("b"); !ok || v != false {
		t.Errorf("Expected bool tag false, got %v (%v)", v, ok)
	}

	// Typed lookup on a differently-typed tag is a miss.
	if _, ok := span.Uint64Tag("s"); ok {
		t.Error("Expected uint64 lookup of string tag to miss")
	}
	if _, ok := span.StringTag("missing"); ok {
		t.Error("Expected missing tag to report not found")
	}
}

func TestSpanTagsIgnoredAfterFinish(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	span := tracing.StartSpan("get", 1000, nil)
	span.Finish(1100) //nolint:errcheck

	span.SetStringTag("late", "value")
	if _, ok := span.StringTag("late"); ok {
		t.Error("Expected tag writes after finish to be ignored")
	}
}

func TestDispatchSpanCopiesTagsToParent(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	outer := tracing.StartSpan("get", 1000, nil)
	outer.SetOuter(true)

	dispatch := tracing.StartSpan(OpDispatchToServer, 1010, outer)
	dispatch.SetDispatch(true)
	dispatch.SetStringTag(TagPeerAddress, "10.0.0.7")
	dispatch.SetUint64Tag(TagPeerPort, 11210)
	dispatch.SetDoubleTag("rtt_ms", 0.8)
	dispatch.SetBoolTag("piggybacked", true)

	if err := dispatch.Finish(1050); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	// Identical values of every type must land on the parent.
	if v, ok := outer.StringTag(TagPeerAddress); !ok || v != "10.0.0.7" {
		t.Errorf("Expected copied string tag, got %q (%v)", v, ok)
	}
	if v, ok := outer.Uint64Tag(TagPeerPort); !ok || v != 11210 {
		t.Errorf("Expected copied uint64 tag, got %d (%v)", v, ok)
	}
	if v, ok := outer.DoubleTag("rtt_ms"); !ok || v != 0.8 {
		t.Errorf("Expected copied double tag, got %v (%v)", v, ok)
	}
	if v, ok := outer.BoolTag("piggybacked"); !ok || v != true {
		t.Errorf("Expected copied bool tag, got %v (%v)", v, ok)
	}
}

func TestDispatchSpanWithoutParent(t *testing.T) {
	capture := &captureTracer{}
	tracing := New(WithTracer(capture))
	defer tracing.Close()

	dispatch := tracing.StartSpan(OpDispatchToServer, 1000, nil)
	dispatch.SetDispatch(true)
	dispatch.SetUint64Tag(TagPeerPort, 11210)

	// No parent to copy into; must not panic and, being parentless,
	// still reports.
	if err := dispatch.Finish(1100); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if got := capture.count(); got != 1 {
		t.Errorf("Expected parentless span to be reported, got %d", got)
	}
}

func TestEncodeSpanAccumulatesDuration(t *testing.T) {
	tracing := New()
	defer tracing.Close()

	outer := tracing.StartSpan("upsert", 1000, nil)
	outer.SetOuter(true)

	first := tracing.StartSpan(OpRequestEncoding, 1000, outer)
	first.SetEncode(true)
	if err := first.Finish(1040); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if v, ok := outer.Uint64Tag(TagTotalEncodeDuration); !ok || v != 40 {
		t.Fatalf("Expected encode duration 40, got %d (%v)", v, ok)
	}

	second := tracing.StartSpan(OpRequestEncoding, 1050, outer)
	second.SetEncode(true)
	if err := second.Finish(1075); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	// Two encode children accumulate additively.
	if v, ok := outer.Uint64Tag(TagTotalEncodeDuration); !ok || v != 65 {
		t.Errorf("Expected accumulated encode duration 65, got %d (%v)", v, ok)
	}
}

func TestOnlyOuterSpansReported(t *testing.T) {
	capture := &captureTracer{}
	tracing := New(WithTracer(capture))
	defer tracing.Close()

	outer := tracing.StartSpan("get", 1000, nil)
	outer.SetOuter(true)

	child := tracing.StartSpan(OpDispatchToServer, 1010, outer)
	child.Finish(1050) //nolint:errcheck

	if got := capture.count(); got != 0 {
		t.Errorf("Expected no reports for non-outer child, got %d", got)
	}

	outer.Finish(1120) //nolint:errcheck
	if got := capture.count(); got != 1 {
		t.Errorf("Expected one report for outer span, got %d", got)
	}
}

func TestConcurrentSpanLifecycle(t *testing.T) {
	capture := &captureTracer{}
	tracing := New(WithTracer(capture))
	defer tracing.Close()

	var wg sync.WaitGroup
	numGoroutines := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			outer := tracing.StartSpan("get", NowTimestamp, nil)
			outer.SetOuter(true)
			outer.SetStringTag("worker", fmt.Sprintf("w%d", n))

			child := tracing.StartSpan(OpDispatchToServer, NowTimestamp, outer)
			child.SetDispatch(true)
			if err := child.Finish(NowTimestamp); err != nil {
				t.Errorf("Child finish failed: %v", err)
			}
			if err := outer.Finish(NowTimestamp); err != nil {
				t.Errorf("Outer finish failed: %v", err)
			}
		}(i)
	}

	wg.Wait()

	if got := capture.count(); got != numGoroutines {
		t.Errorf("Expected %d reported spans, got %d", numGoroutines, got)
	}

	// Every span carries a distinct identity.
	seen := make(map[uint64]bool)
	for _, span := range capture.all() {
		if seen[span.SpanID()] {
			t.Errorf("Duplicate span ID %d", span.SpanID())
		}
		seen[span.SpanID()] = true
	}
}
