// Package api hosts the operator HTTP surface used in continuous mode.
// Notable routes:
//   - GET /healthz / readyz for health checks; readyz pings the article store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/articles, /v1/articles/{id}, /v1/search and /v1/stats for
//     read-only access to stored articles via archiver.ArticleReader.
package api
