package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// TraceID identifies one request chain
type TraceID string

// SpanID identifies one traced call
type SpanID string

// Span is one traced control API call.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Service  string

	// PID is the process the call acted as, empty for host routes.
	PID string
	// KernelStatus is the kernel result of the call, empty when the
	// handler never reached the kernel.
	KernelStatus string
	HTTPStatus   int
	Err          error

	Start    time.Time
	Duration time.Duration
}

// Finish stamps the span duration
func (s *Span) Finish() {
	s.Duration = time.Since(s.Start)
}

// Fatal reports whether the call ended with a fatal kernel status.
func (s *Span) Fatal() bool {
	return len(s.KernelStatus) > 6 && s.KernelStatus[:6] == "FATAL_"
}

func (s *Span) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("trace_id", string(s.TraceID)),
		zap.String("span_id", string(s.SpanID)),
		zap.String("operation", s.Name),
		zap.Duration("duration", s.Duration),
		zap.Int("http_status", s.HTTPStatus),
	}
	if s.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(s.ParentID)))
	}
	if s.PID != "" {
		fields = append(fields, zap.String("pid", s.PID))
	}
	if s.KernelStatus != "" {
		fields = append(fields, zap.String("kernel_status", s.KernelStatus))
	}
	if s.Err != nil {
		fields = append(fields, zap.Error(s.Err))
	}
	return fields
}

// Tracer logs finished spans from a collector goroutine. Submitting never
// blocks: spans beyond the buffer are dropped.
type Tracer struct {
	service string
	logger  *logging.Logger
	spans   chan *Span
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts a tracer for service.
func New(service string, logger *logging.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace"),
		spans:   make(chan *Span, 1000),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// Close stops the collector after draining buffered spans.
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()
	<-t.done
}

// StartSpan opens a span under the trace carried by ctx, or a new trace.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}
	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.NewRequestID()),
		ParentID: GetSpanID(ctx),
		Name:     name,
		Service:  t.service,
		Start:    time.Now(),
	}
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Submit hands a finished span to the collector. Spans submitted after
// Close are dropped.
func (t *Tracer) Submit(span *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("span_id", string(span.SpanID)),
		)
	}
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		switch {
		case span.Err != nil, span.Fatal():
			t.logger.Warn("span completed with error", span.fields()...)
		default:
			t.logger.Debug("span completed", span.fields()...)
		}
	}
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// WithTrace returns ctx carrying the given trace and parent span.
func WithTrace(ctx context.Context, traceID TraceID, parent SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if parent != "" {
		ctx = context.WithValue(ctx, spanIDKey, parent)
	}
	return ctx
}

// GetTraceID returns the trace id carried by ctx
func GetTraceID(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// GetSpanID returns the span id carried by ctx
func GetSpanID(ctx context.Context) SpanID {
	spanID, _ := ctx.Value(spanIDKey).(SpanID)
	return spanID
}

// Fields returns the trace and span of ctx as log fields, so entries
// logged while serving a request can be matched with its span.
func Fields(ctx context.Context) []zap.Field {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", string(traceID)),
		zap.String("span_id", string(GetSpanID(ctx))),
	}
}
