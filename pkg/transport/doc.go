// Package transport delivers debug messages from the instrumented process to
// a viewer without ever blocking or failing the caller.
//
// A Shipper owns a bounded drop-oldest queue and exactly one worker
// goroutine. The worker is the sole owner of the TCP connection:
//
//	connect (accept in listen mode, dial in dial mode)
//	  → write protocol version byte
//	  → pop, encode, write frames until a write fails
//	  → reconnect with truncated exponential backoff (±25% jitter)
//
// A message whose write fails is held ahead of the queue and retried on the
// next connection, up to retry_limit more times, then dropped.
//
// Shutdown(timeout) stops backoff, drains what it can before the deadline and
// reports whether the queue was fully delivered. Flush(timeout) waits for the
// same condition without stopping the worker.
//
// Drops (overflow, retry exhaustion, encoding failure, shutdown timeout) are
// counted per Shipper, process-wide via Dropped(), and in the
// rdbg_transport_dropped_total metric. They are observable through the
// optional diagnostics callback and never returned to the caller.
//
// Noop satisfies Transport with no work at all and is used when debugging is
// disabled.
package transport
