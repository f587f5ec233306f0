// Package api hosts the ops HTTP surface started by serve. Routes:
//   - GET /healthz and /readyz for container probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs/{name}/run to trigger a pipeline job out of schedule.
package api
