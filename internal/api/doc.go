// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /r/{code} for short-link redirects.
//   - /api/v1/... for offers, collect jobs, message templates, short links,
//     link health checks, and the Amazon affiliate utilities.
package api
