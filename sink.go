package orcatrace

import (
	"encoding/json"

	"go.uber.org/zap"
)

// SummaryEntry is the lightweight snapshot of one retained span.
type SummaryEntry struct {
	Operation        Key                 `json:"operation_name"`
	Service          string              `json:"service,omitempty"`
	TotalDurationUS  uint64              `json:"total_duration_us"`
	EncodeDurationUS uint64              `json:"encode_duration_us,omitempty"`
	ServerDurationUS uint64              `json:"server_duration_us,omitempty"`
	OperationID      string              `json:"last_operation_id,omitempty"`
	LocalAddress     string              `json:"last_local_address,omitempty"`
	PeerAddress      string              `json:"last_remote_address,omitempty"`
	Orphaned         bool                `json:"orphaned,omitempty"`
	Tags             map[Tag]interface{} `json:"tags,omitempty"`
}

// ServiceSummary reports one service bucket for a flush window: how many
// spans qualified and the slowest of them, longest first.
type ServiceSummary struct {
	Service string         `json:"service"`
	Count   uint64         `json:"count"`
	Top     []SummaryEntry `json:"top"`
}

// OrphanSummary reports the orphaned spans of a flush window across all
// services.
type OrphanSummary struct {
	Count uint64         `json:"count"`
	Top   []SummaryEntry `json:"top,omitempty"`
}

// Summary is the record a flush produces. Persisting or transmitting it is
// the sink's business; the tracer's contract ends here.
type Summary struct {
	Services []ServiceSummary `json:"services,omitempty"`
	Orphans  OrphanSummary    `json:"orphans"`
}

// Sink receives flushed summaries.
type Sink interface {
	Emit(summary *Summary) error
	Close() error
}

// LogSink writes summaries to a zap logger, one line per service bucket
// plus one for orphans, with the bucket serialized as JSON.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink. A nil logger discards output.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Emit logs each populated service bucket and the orphan set.
func (s *LogSink) Emit(summary *Summary) error {
	for _, svc := range summary.Services {
		data, err := json.Marshal(svc)
		if err != nil {
			return err
		}
		s.logger.Info("operations over threshold",
			zap.String("service", svc.Service),
			zap.Uint64("count", svc.Count),
			zap.ByteString("summary", data),
		)
	}
	if summary.Orphans.Count > 0 {
		data, err := json.Marshal(summary.Orphans)
		if err != nil {
			return err
		}
		s.logger.Warn("orphaned operations",
			zap.Uint64("count", summary.Orphans.Count),
			zap.ByteString("summary", data),
		)
	}
	return nil
}

// Close flushes the underlying logger.
func (s *LogSink) Close() error {
	return s.logger.Sync()
}
