// Package api hosts the reporting HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/state, /v1/targets, /v1/items/recent and /v1/rankings for
//     reporting over the store.
//   - POST /v1/run-once to drive one pipeline pass.
//   - GET /v1/runs and /v1/runs/{run_id} for orchestration progress.
package api
