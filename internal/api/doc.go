// Package api hosts the HTTP trigger for date runs. Notable routes:
//   - POST /v1/runs starts a run for {"date":"YYYYMMDD"} or ?date=YYYYMMDD,
//     defaulting to today in the configured zone.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
