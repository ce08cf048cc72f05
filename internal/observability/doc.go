// Package observability provides structured logging and Prometheus metrics
// for the console gateway.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - Request logging middleware with request ID propagation
//   - Gate metrics (authentication outcomes, access decisions)
//   - Collectors over the key set provider, membership cache and audit queue
//   - The /metrics handler
package observability
