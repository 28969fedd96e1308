// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz, /readyz for probes and GET /metrics for Prometheus scraping.
//   - POST /webhooks/email for signed inbound email deliveries.
//   - /admin/intelligence/... for competitor analysis (API key required).
//   - /admin/emails/... for the inbox and outbound replies (API key required).
package api
