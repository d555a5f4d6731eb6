/*
Package tracing provides lightweight spans logged through zap.

Spans cover HTTP requests, gRPC calls and session batch execution. Trace
context travels in the X-Trace-ID and X-Span-ID headers (x-trace-id and
x-span-id gRPC metadata), so a pipe client and the server share one
trace.

	tracer := tracing.New("uiblocks", logger.Logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "engine.batch")
	defer tracer.End(span, nil)
*/
package tracing
