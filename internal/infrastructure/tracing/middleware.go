package tracing

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// Propagation headers
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

// StatusKey is the gin context key under which handlers store the kernel
// status of the call they made.
const StatusKey = "kernel_status"

// HTTPMiddleware opens a span per request, named after the route template.
// The span records the acting pid and the kernel status left under
// StatusKey.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithTrace(c.Request.Context(),
			TraceID(c.GetHeader(TraceHeader)),
			SpanID(c.GetHeader(SpanHeader)),
		)

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.PID = c.Param("pid")
		c.Request = c.Request.WithContext(ctx)

		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		span.Finish()
		span.HTTPStatus = c.Writer.Status()
		span.KernelStatus = c.GetString(StatusKey)
		if len(c.Errors) > 0 {
			span.Err = errors.New(c.Errors.String())
		}
		tracer.Submit(span)
	}
}
