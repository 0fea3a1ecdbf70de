package pjutsauth

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEvent is one security-relevant outcome. It never carries PINs,
// passwords, tokens or share codes; Subject is an email or a principal ID.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Subject   string            `json:"subject,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink hands events to a reader over a buffered channel. Tests use it
// to assert on emitted events.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan AuditEvent, max(buffer, 1))}
}

// Emit blocks while the channel is full unless ctx ends first.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent { return s.events }

// JSONWriterSink appends one JSON document per line to an io.Writer, such as
// an audit log file. Write errors are dropped.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONWriterSink{enc: enc}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}

// ZapSink logs each event under its event type: successes at info, failures
// at warn.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event AuditEvent) {
	level := zap.InfoLevel
	if !event.Success {
		level = zap.WarnLevel
	}
	ce := s.logger.Check(level, event.EventType)
	if ce == nil {
		return
	}

	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("subject", event.Subject),
		zap.String("ip", event.IP),
		zap.Bool("success", event.Success),
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error_code", event.Error))
	}
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, event.Metadata[k]))
	}
	ce.Write(fields...)
}
