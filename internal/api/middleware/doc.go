// Package middleware provides HTTP middleware for the kernel control API.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing; exposes the trace and kernel
//     status headers to browsers
//   - RateLimit: token bucket limiting keyed by the acting process on
//     /procs/:pid routes and by client IP elsewhere
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Group("/procs/:pid", middleware.RateLimit(cfg.RateLimit))
package middleware
