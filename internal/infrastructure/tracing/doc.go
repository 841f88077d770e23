/*
Package tracing provides request tracing for the kernel control API.

Every HTTP request gets a span carrying a trace id (taken from X-Trace-ID
or generated), the acting pid and the kernel status the handler produced.
Finished spans are buffered and logged by a collector goroutine; a full
buffer drops spans rather than stalling requests. Spans of calls that
ended with a fatal kernel status are logged at warn level.

Handlers add Fields(ctx) to their own log entries so that, for example,
the warning for an aborted caller carries the trace and span ids of the
request that caused it.

	tracer := tracing.New("isolation", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))
*/
package tracing
