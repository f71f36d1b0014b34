// Package middleware provides the gin middleware in front of the terminal API.
//
//   - CORS: gin-contrib/cors, WebSocket upgrades allowed
//   - RateLimit: per-IP token buckets (x/time/rate) with idle eviction
//   - RequestID: X-Request-ID propagation using prefixed ULIDs
package middleware
