package observability

const ServiceName = "cdp-bridge"

// Binary versioning for logs, metrics and /api/version.
// Values are overwritten via -ldflags during build.
var (
	Version = "dev"  // release version
	Commit  = "none" // short commit
	Date    = ""     // ISO8601 UTC build time
)
