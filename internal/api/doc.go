// Package api hosts the status HTTP server that runs alongside a staging run.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the in-flight run's state and counters.
//   - GET /v1/runs/{run_id} for past runs recorded in the run ledger.
package api
