// Package api hosts the HTTP server, middleware, and REST handlers of the
// mirror. Notable routes:
//   - GET /api/comics, /api/comics/{n}, /api/comics/{n}/image,
//     /api/comics/random and /api/comics/navigate for browsing.
//   - POST /api/update to start a synchronization, GET /api/status to poll it.
//   - GET / and /update for the browser viewer pages.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
