package utils

import "os"

var (
	HTTP_PORT = GetEnvOrDefault("HTTP_PORT", "8080")

	// STORAGE_BACKEND selects the storage engine client: "memory" or "crdb"
	STORAGE_BACKEND = GetEnvOrDefault("STORAGE_BACKEND", "memory")
	CRDB_DSN        = os.Getenv("CRDB_DSN")
	RUN_MIGRATIONS  = os.Getenv("RUN_MIGRATIONS") == "1"

	// CRDB_SCAN_BATCH_SIZE is the page size for keyset-paginated scans
	CRDB_SCAN_BATCH_SIZE = GetEnvOrDefaultInt("CRDB_SCAN_BATCH_SIZE", 1000)

	CATALOG_CACHE_SIZE = GetEnvOrDefaultInt("CATALOG_CACHE_SIZE", 1024)
	SCAN_BUFFER_SIZE   = GetEnvOrDefaultInt("SCAN_BUFFER_SIZE", 256)
	JOIN_CONCURRENCY   = GetEnvOrDefaultInt("JOIN_CONCURRENCY", 16)

	SHUTDOWN_SLEEP_SEC = GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
)
