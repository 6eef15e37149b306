// Package core provides shared constants and configuration for convcache.
package core

// API configuration
const (
	APIBaseURL   = "https://api.parley.chat"
	APIVersion   = "v1"
	APIKeyEnvVar = "CONVCACHE_API_KEY"
	DefaultTZ    = "UTC"
)

// Date formats
const (
	APIDateFmt     = "2006-01-02"
	APIDatetimeFmt = "2006-01-02 15:04:05"
)

// Pagination
const (
	PageLimit = 25
)

// Version is the current CLI version.
const Version = "0.3.0"
