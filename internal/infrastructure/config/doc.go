// Package config provides 12-factor configuration management for the
// isolation kernel server.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Kernel: fixed limits (windows, credential capacity, process count,
//     interrupt sources) and policies (reset, owner mapping)
//   - Manifest: where the bundle manifests are loaded from
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - KERNEL_WINDOW_COUNT, KERNEL_CREDENTIAL_CAPACITY, KERNEL_PROCESS_MAX,
//     KERNEL_TICK, KERNEL_RESET_POLICY, KERNEL_OWNER_MAP_WHILE_TRANSFERRED
//   - MANIFEST_PATH, MANIFEST_PATTERN
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
