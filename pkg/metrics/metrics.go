package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Metrics collects archive streaming counters for the process.
type Metrics struct {
	mu sync.RWMutex

	// Stream metrics
	StreamsStarted   int64
	StreamsCompleted int64
	StreamsFailed    int64
	StreamDurationNs int64

	// File metrics
	FilesArchived     int64
	FilesSkipped      int64
	ContentBytes      int64 // source bytes, before padding
	PaddingBytes      int64
	FileDurationNs    int64
	MaxFileDurationNs int64
	FailuresByKind    map[string]int64 // by error kind, one key per kind

	// Output metrics
	ChunksEmitted int64
	BytesEmitted  int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		FailuresByKind: make(map[string]int64),
	}
}

// RecordStreamStart records a stream bound to a directory
func (m *Metrics) RecordStreamStart(dir string, files int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StreamsStarted++

	log.Debug().
		Str("dir", dir).
		Int("files", files).
		Msg("stream started")
}

// RecordChunk records one chunk handed to the consumer
func (m *Metrics) RecordChunk(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ChunksEmitted++
	m.BytesEmitted += int64(size)
}

// RecordFile records a file whose content was fully streamed
func (m *Metrics) RecordFile(name string, size, padding int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FilesArchived++
	m.ContentBytes += size
	m.PaddingBytes += padding
	m.FileDurationNs += duration.Nanoseconds()
	if duration.Nanoseconds() > m.MaxFileDurationNs {
		m.MaxFileDurationNs = duration.Nanoseconds()
	}

	log.Debug().
		Str("name", name).
		Int64("size", size).
		Int64("padding", padding).
		Dur("duration", duration).
		Msg("file archived")
}

// RecordSkip records an entry that was dropped after enumeration
func (m *Metrics) RecordSkip(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FilesSkipped++

	log.Warn().
		Str("path", path).
		Msg("entry skipped")
}

// RecordStreamEnd records a stream reaching its terminal state
func (m *Metrics) RecordStreamEnd(err error, kind string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StreamDurationNs += duration.Nanoseconds()
	if err == nil {
		m.StreamsCompleted++
		return
	}
	m.StreamsFailed++
	m.FailuresByKind[kind]++
}

// GetPrometheusMetrics returns metrics in Prometheus format
func (m *Metrics) GetPrometheusMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make(map[string]interface{})

	metrics["tarstream_streams_started_total"] = m.StreamsStarted
	metrics["tarstream_streams_completed_total"] = m.StreamsCompleted
	metrics["tarstream_streams_failed_total"] = m.StreamsFailed
	metrics["tarstream_stream_seconds_total"] = float64(m.StreamDurationNs) / 1e9
	metrics["tarstream_files_archived_total"] = m.FilesArchived
	metrics["tarstream_files_skipped_total"] = m.FilesSkipped
	metrics["tarstream_content_bytes_total"] = m.ContentBytes
	metrics["tarstream_padding_bytes_total"] = m.PaddingBytes
	metrics["tarstream_file_seconds_total"] = float64(m.FileDurationNs) / 1e9
	metrics["tarstream_file_seconds_max"] = float64(m.MaxFileDurationNs) / 1e9
	metrics["tarstream_chunks_total"] = m.ChunksEmitted
	metrics["tarstream_bytes_total"] = m.BytesEmitted

	for kind, count := range m.FailuresByKind {
		metrics["tarstream_failures_total{kind=\""+kind+"\"}"] = count
	}

	return metrics
}

// LogSummary logs a summary of current metrics
func (m *Metrics) LogSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overhead := float64(0)
	if m.BytesEmitted > 0 {
		overhead = float64(m.BytesEmitted-m.ContentBytes) / float64(m.BytesEmitted)
	}

	log.Info().
		Int64("streams_completed", m.StreamsCompleted).
		Int64("streams_failed", m.StreamsFailed).
		Int64("files_archived", m.FilesArchived).
		Int64("files_skipped", m.FilesSkipped).
		Int64("content_bytes", m.ContentBytes).
		Int64("bytes_emitted", m.BytesEmitted).
		Int64("chunks_emitted", m.ChunksEmitted).
		Float64("format_overhead", overhead).
		Msg("metrics summary")
}

// Global metrics instance
var GlobalMetrics = NewMetrics()

func LogMetricsSummary() {
	GlobalMetrics.LogSummary()
}
