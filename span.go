package orcatrace

import (
	"errors"
	"strconv"
	"sync"
)

// ErrSpanAlreadyFinished is returned by Finish when the span has already
// been finished. The first finish wins; the span is never re-reported.
var ErrSpanAlreadyFinished = errors.New("orcatrace: span already finished")

// Span represents one timed phase of work or a whole logical operation.
//
// Spans are single-writer: only the goroutine owning the current phase of
// work may add tags or finish a given span. Distinct spans may be used
// from distinct goroutines concurrently.
//
// The parent link is a non-owning back-reference used for trace ID
// inheritance and tag propagation; a parent never enumerates its children.
// Callers must finish children before dropping the parent.
type Span struct {
	owner  *Tracing
	parent *Span
	tags   *TagTable
	ext    *externalHandle

	operation Key
	spanID    uint64
	traceID   uint64
	startTS   Timestamp
	finishTS  Timestamp

	service    Service
	serviceSet bool
	isOuter    bool
	isEncode   bool
	isDispatch bool
	orphaned   bool
	finished   bool
}

// externalHandle carries the state of a span wrapping an externally-created
// span object (see Tracing.WrapSpan).
type externalHandle struct {
	delegate    ExternalTracer
	handle      interface{}
	destroyOnce sync.Once
}

// Operation returns the immutable operation name of the span.
func (s *Span) Operation() Key { return s.operation }

// SpanID returns the process-unique span identifier.
func (s *Span) SpanID() uint64 { return s.spanID }

// TraceID returns the trace identifier shared by the span's ancestry chain.
func (s *Span) TraceID() uint64 { return s.traceID }

// Parent returns the parent span, or nil for a root span.
func (s *Span) Parent() *Span { return s.parent }

// StartTS returns the span's start timestamp.
func (s *Span) StartTS() Timestamp { return s.startTS }

// FinishTS returns the span's finish timestamp, or 0 while unfinished.
func (s *Span) FinishTS() Timestamp { return s.finishTS }

// Finished reports whether Finish has been called.
func (s *Span) Finished() bool { return s.finished }

// Duration returns finish minus start in microseconds, or 0 while the span
// is unfinished.
func (s *Span) Duration() uint64 {
	if !s.finished {
		return 0
	}
	return s.finishTS - s.startTS
}

// Service returns the span's service classification.
func (s *Span) Service() Service { return s.service }

// SetService classifies the span. The first classification sticks;
// later calls are ignored. Meaningful only on outer spans.
func (s *Span) SetService(svc Service) {
	if s.serviceSet {
		return
	}
	s.service = svc
	s.serviceSet = true
}

// IsOuter reports whether the span represents a whole logical operation
// whose finish the caller manages.
func (s *Span) IsOuter() bool { return s.isOuter }

// SetOuter marks the span as an outer span. Outer spans are not
// auto-finished by the request layer and are reported on finish.
func (s *Span) SetOuter(outer bool) { s.isOuter = outer }

// IsEncode reports whether the span covers request encoding.
func (s *Span) IsEncode() bool { return s.isEncode }

// SetEncode marks the span as an encode span. When an encode span
// finishes, its duration is added into the parent's
// TagTotalEncodeDuration tag.
func (s *Span) SetEncode(encode bool) { s.isEncode = encode }

// IsDispatch reports whether the span covers network dispatch.
func (s *Span) IsDispatch() bool { return s.isDispatch }

// SetDispatch marks the span as a dispatch span. When a dispatch span
// finishes, its tags are copied into the parent span.
func (s *Span) SetDispatch(dispatch bool) { s.isDispatch = dispatch }

// Orphaned reports whether the owning request was abandoned before a
// server response.
func (s *Span) Orphaned() bool { return s.orphaned }

// SetOrphaned flags the span as orphaned. The request layer sets this
// before Finish when it abandons a request, e.g. on timeout.
func (s *Span) SetOrphaned(orphaned bool) { s.orphaned = orphaned }

// ShouldFinish reports whether the request layer is responsible for
// finishing the span. Outer spans handed in by the caller are finished by
// the caller instead.
func (s *Span) ShouldFinish() bool { return !s.isOuter }

// Tags returns the span's tag table.
func (s *Span) Tags() *TagTable { return s.tags }

// SetStringTag upserts a string tag.
func (s *Span) SetStringTag(name Tag, value string) {
	s.setTag(StringTag(name, value))
}

// SetUint64Tag upserts an unsigned-integer tag.
func (s *Span) SetUint64Tag(name Tag, value uint64) {
	s.setTag(Uint64Tag(name, value))
}

// SetDoubleTag upserts a double tag.
func (s *Span) SetDoubleTag(name Tag, value float64) {
	s.setTag(DoubleTag(name, value))
}

// SetBoolTag upserts a boolean tag.
func (s *Span) SetBoolTag(name Tag, value bool) {
	s.setTag(BoolTag(name, value))
}

func (s *Span) setTag(v TagValue) {
	if s.finished {
		return
	}
	s.tags.Set(v)
	if s.ext != nil {
		s.ext.addTag(v)
	}
}

// StringTag returns the string tag stored under name. The bool result
// distinguishes a missing tag from a present-but-empty value; a tag of a
// different type is a miss.
func (s *Span) StringTag(name Tag) (string, bool) {
	v, ok := s.tags.Get(name)
	if !ok || v.typ != stringTag {
		return "", false
	}
	return v.stringVal, true
}

// Uint64Tag returns the unsigned-integer tag stored under name.
func (s *Span) Uint64Tag(name Tag) (uint64, bool) {
	v, ok := s.tags.Get(name)
	if !ok || v.typ != uint64Tag {
		return 0, false
	}
	return v.numericVal, true
}

// DoubleTag returns the double tag stored under name.
func (s *Span) DoubleTag(name Tag) (float64, bool) {
	v, ok := s.tags.Get(name)
	if !ok || v.typ != doubleTag {
		return 0, false
	}
	return v.Value().(float64), true
}

// BoolTag returns the boolean tag stored under name.
func (s *Span) BoolTag(name Tag) (bool, bool) {
	v, ok := s.tags.Get(name)
	if !ok || v.typ != boolTag {
		return false, false
	}
	return v.numericVal != 0, true
}

// Finish completes the span at the given timestamp (NowTimestamp to read
// the clock) and runs the flag-driven propagation rules:
//
//   - dispatch spans copy every tag into their parent
//   - encode spans add their duration into the parent's
//     TagTotalEncodeDuration tag
//   - outer spans, and spans with no parent, are handed to the tracer
//     active at finish time
//
// Finishing twice is a caller error and returns ErrSpanAlreadyFinished
// without re-reporting.
func (s *Span) Finish(now Timestamp) error {
	if s.finished {
		return ErrSpanAlreadyFinished
	}

	ts := now
	if ts == NowTimestamp {
		ts = s.owner.now()
	}
	if ts < s.startTS {
		// Keep finish >= start even for skewed explicit timestamps.
		ts = s.startTS
	}
	s.finishTS = ts
	s.finished = true

	if s.ext != nil {
		// Wrapped external spans forward the finish and skip the internal
		// propagation and reporting paths; the external tracer owns them.
		s.ext.delegate.EndSpan(s.ext.handle)
		s.owner.metrics.incSpansFinished()
		return nil
	}

	if s.parent != nil {
		if s.isDispatch {
			for _, v := range s.tags.Values() {
				s.parent.tags.Set(v)
			}
		}
		if s.isEncode {
			total, _ := s.parent.Uint64Tag(TagTotalEncodeDuration)
			s.parent.tags.Set(Uint64Tag(TagTotalEncodeDuration, total+s.Duration()))
		}
	}

	if s.isOuter || s.parent == nil {
		s.owner.reportSpan(s)
	} else {
		s.owner.metrics.incSpansFinished()
	}
	return nil
}

// Destroy releases span resources. For a span wrapping an external handle
// it requests destruction of that handle exactly once; for ordinary spans
// it is a no-op.
func (s *Span) Destroy() {
	if s.ext == nil {
		return
	}
	s.ext.destroyOnce.Do(func() {
		s.ext.delegate.DestroySpan(s.ext.handle)
	})
}

// addTag forwards a tag to the wrapped external span. The external
// delegate interface carries only string and uint64 tags, so doubles and
// booleans are converted.
func (e *externalHandle) addTag(v TagValue) {
	switch v.typ {
	case stringTag:
		e.delegate.AddTagString(e.handle, v.key, v.stringVal)
	case uint64Tag:
		e.delegate.AddTagUint64(e.handle, v.key, v.numericVal)
	case doubleTag:
		e.delegate.AddTagString(e.handle, v.key, strconv.FormatFloat(v.Value().(float64), 'f', -1, 64))
	case boolTag:
		e.delegate.AddTagUint64(e.handle, v.key, v.numericVal)
	}
}
