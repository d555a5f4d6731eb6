// Package config provides 12-factor configuration for the uiblocks
// server.
//
// Configuration is loaded from environment variables with defaults. When
// UIBLOCKS_CONFIG names a .toml, .yaml or .yml file, its values are
// applied first and environment variables override them.
//
// Configuration Sections:
//   - Server: HTTP listener (PORT, HOST)
//   - GRPC: health service listener (GRPC_ADDR, GRPC_ENABLED)
//   - Logging: level and encoding (LOG_LEVEL, LOG_DEV)
//   - RateLimit: per-IP limits (RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED)
//   - Engine: block marker, tick, readiness timeout, carry limit, step
//     budget and tick parallelism (UIBLOCKS_*)
//   - Assets: asset root and allow-list globs (ASSET_ROOT, ASSET_ALLOW)
//   - History: fragment history database (HISTORY_PATH)
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
