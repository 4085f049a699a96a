// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/blogs to register a blog, GET /v1/blogs/{blog_id} to inspect it.
//   - POST /v1/blogs/{blog_id}/check and /discover to queue work; poll the
//     returned id at GET /v1/tasks/{task_id}.
//   - GET /v1/posts?since=6h for the recent-post digest.
package api
