// Package orcatrace is the request-tracing core of the orcadb Go client.
//
// orcatrace records timed, hierarchical spans describing the phases of a
// client operation (request encoding, dispatch to the server, response
// decoding) as well as the whole operation itself, and routes finished
// outer spans to a pluggable reporter.
//
// Core Components:.
//   - Tracing: per-client owner of the active tracer and span creation.
//   - Span: a timed, tagged unit of work with optional parent linkage.
//   - TagTable: ordered, typed tag storage owned by one span.
//   - Tracer: reporter capability invoked with finished outer spans.
//   - ThresholdOrphanTracer: built-in aggregator that keeps only the
//     slowest and orphaned operations per flush window.
//
// Basic Usage:.
//
//	tracing := orcatrace.New(
//		orcatrace.WithTracer(orcatrace.NewThresholdOrphanTracer(
//			orcatrace.DefaultThresholdLoggingConfig(),
//			orcatrace.NewLogSink(logger),
//		)),
//	)
//	defer tracing.Close()
//
//	// Start the outer span for a logical operation.
//	op := tracing.StartSpan(orcatrace.OpGet, orcatrace.NowTimestamp, nil)
//	op.SetOuter(true)
//	op.SetService(orcatrace.ServiceKV)
//
//	// Phase spans are parented to the outer span.
//	dispatch := tracing.StartSpan(orcatrace.OpDispatchToServer, orcatrace.NowTimestamp, op)
//	dispatch.SetDispatch(true)
//	dispatch.SetUint64Tag(orcatrace.TagPeerPort, 11210)
//	_ = dispatch.Finish(orcatrace.NowTimestamp)
//
//	_ = op.Finish(orcatrace.NowTimestamp)
//
// Thread Safety:.
//
// Tracing is safe for concurrent use by multiple goroutines; many spans
// may be created and finished concurrently. A single Span is single-writer:
// only the goroutine owning that phase of work may add tags or finish it.
//
// Reporting:.
//
// Only outer (or parentless) spans are reported, to whichever tracer is
// active at finish time. Tracing failures never propagate into the traced
// operation.
package orcatrace

// Key represents a span operation name.
type Key = string

// Tag represents a span tag key.
type Tag = string

// Service classifies the cluster service an outer span talks to. The
// threshold tracer uses it to pick which duration threshold applies.
type Service uint8

const (
	// ServiceUnset marks a span with no service classification.
	ServiceUnset Service = iota
	ServiceKV
	ServiceQuery
	ServiceViews
	ServiceSearch
	ServiceAnalytics

	numServices = int(ServiceAnalytics)
)

// String returns the wire name of the service, or "" when unset.
func (s Service) String() string {
	switch s {
	case ServiceKV:
		return "kv"
	case ServiceQuery:
		return "query"
	case ServiceViews:
		return "views"
	case ServiceSearch:
		return "search"
	case ServiceAnalytics:
		return "analytics"
	default:
		return ""
	}
}

// TracerFlags select a built-in tracer variant in NewTracer.
type TracerFlags uint64

const (
	// TracerThreshold requests the threshold/orphan logging tracer.
	TracerThreshold TracerFlags = 1 << iota
	// TracerExternal requests an external-delegate tracer. NewTracer has
	// no delegate to hand spans to, so this flag alone yields no tracer;
	// use NewExternalTracer instead.
	TracerExternal
)

// Operation names for the internal phase spans created around a request.
const (
	OpRequestEncoding  Key = "request_encoding"
	OpDispatchToServer Key = "dispatch"
	OpResponseDecoding Key = "response_decoding"
)

// Operation names for whole-operation outer spans.
const (
	OpGet       Key = "get"
	OpUpsert    Key = "upsert"
	OpInsert    Key = "insert"
	OpReplace   Key = "replace"
	OpRemove    Key = "remove"
	OpAppend    Key = "append"
	OpPrepend   Key = "prepend"
	OpCounter   Key = "counter"
	OpTouch     Key = "touch"
	OpUnlock    Key = "unlock"
	OpExists    Key = "exists"
	OpLookupIn  Key = "lookup_in"
	OpMutateIn  Key = "mutate_in"
	OpQuery     Key = "query"
	OpSearch    Key = "search"
	OpAnalytics Key = "analytics"
	OpViews     Key = "views"
)

// Well-known tag names the request layer is expected to populate. The core
// treats all tag names as opaque strings and never validates against this
// vocabulary.
const (
	TagSpanKind    Tag = "span.kind"
	TagSystem      Tag = "db.system"
	TagInstance    Tag = "db.instance"
	TagStatement   Tag = "db.statement"
	TagOperation   Tag = "db.operation"
	TagTransport   Tag = "db.net.transport"
	TagComponent   Tag = "db.orcadb.component"
	TagOperationID Tag = "db.orcadb.operation_id"
	TagService     Tag = "db.orcadb.service"
	TagLocalID     Tag = "db.orcadb.local_id"
	TagScope       Tag = "db.orcadb.scope"
	TagCollection  Tag = "db.orcadb.collection"
	TagDurability  Tag = "db.orcadb.durability"
	TagRetries     Tag = "db.orcadb.retries"
	TagPeerLatency Tag = "db.orcadb.server_duration"

	TagLocalAddress Tag = "net.host.name"
	TagLocalPort    Tag = "net.host.port"
	TagPeerAddress  Tag = "net.peer.name"
	TagPeerPort     Tag = "net.peer.port"

	// TagTotalEncodeDuration accumulates the duration of every finished
	// encode child span, in microseconds, on the parent span.
	TagTotalEncodeDuration Tag = "total_encode_duration"
)
