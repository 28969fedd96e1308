// Command sitecore runs the marketing-site backend.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes probes, metrics, the signed inbound email webhook, and the
//     API-key protected admin routes for competitor intelligence and the inbox.
//   - Webhook path: internal/webhook verifies the HMAC signature and replay window, fetches full content
//     from the email provider, derives the thread, links a lead when one matches, and inserts the email.
//     The message id unique constraint makes provider retries idempotent.
//   - Intelligence path: internal/intelligence submits a crawl (remote provider or in-process colly),
//     polls it to a terminal state within the configured budget, combines page markdown and structured
//     extraction, asks the generative model for insights, and stores the competitor.
//   - Persistence & fanout: Postgres (pgx) when a DSN is configured, otherwise in-memory stores. Crawl
//     snapshots go to the configured blob store (memory/local/GCS); domain events go to Pub/Sub when a
//     topic is configured.
//
// Quick checklist:
//   - Configure env vars with the SITECORE_ prefix (SITECORE_DATABASE_DSN, SITECORE_WEBHOOK_SECRET,
//     SITECORE_AUTH_API_KEY, SITECORE_CRAWL_API_KEY, SITECORE_AI_API_KEY, ...) or a .env file.
//   - Apply the schema: sitecore migrate (or set database.auto_migrate).
//   - Run locally: sitecore serve --config config.yaml
//   - One-shot analysis: sitecore analyze https://competitor.example --limit 10
package main

import "github.com/JakeFAU/sitecore/cmd"

func main() {
	cmd.Execute()
}
