// Package cmd defines and implements the CLI commands for the blogwatch executable.
//
// Architecture overview:
//   - Schema refinement: `check` asks the LLM oracle for a scraping schema, runs
//     it with the CSS executor against the live listing page and either accepts
//     it or retries with the failure as feedback, up to refinement.max_attempts.
//     The attempt counter is persisted so restarts never reset the budget.
//   - Discovery & extraction: `discover` applies the accepted schema, drops
//     posts already stored, and fans the rest out to a bounded worker pool that
//     fetches each article, extracts its text, asks the oracle for a summary,
//     density and topics, and stores the post. One failing post never affects
//     the others; failures are written to the error log by category.
//   - Serving: `serve` exposes the same operations over HTTP. Check and discover
//     requests are queued and executed by dispatcher workers; clients poll
//     /v1/tasks/{task_id}.
//   - Plumbing: Viper reads config from file and BLOGWATCH_* env vars, zap
//     provides structured logging, Prometheus metrics are served at /metrics.
//
// Quick checklist:
//   - Configure BLOGWATCH_LLM_PROVIDER and BLOGWATCH_LLM_API_KEY.
//   - Use BLOGWATCH_DATABASE_BACKEND=postgres with BLOGWATCH_DATABASE_DSN for
//     durable state; the default in-memory gateway is for local trials.
//   - blogwatch blog add https://example.com/blog && blogwatch run
package cmd
