// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and /v1/jobs/preset for job submission.
//   - GET /v1/jobs, /v1/jobs/{job_id} and /v1/jobs/{job_id}/results for
//     progress and ledger reporting.
//   - POST /v1/jobs/{job_id}/cancel and
//     /v1/jobs/{job_id}/products/{product_id}/action for operator decisions.
package api
