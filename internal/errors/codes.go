// Package errors provides structured error handling for pagesearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Embedding provider errors
//   - 3XX: Store errors
//   - 4XX: Indexing pipeline errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration errors (bad settings, chunk parameters).
	CategoryConfig Category = "CONFIG"
	// CategoryProvider indicates embedding provider failures.
	CategoryProvider Category = "PROVIDER"
	// CategoryStore indicates storage failures and invariant violations.
	CategoryStore Category = "STORE"
	// CategoryPipeline indicates indexing job failures.
	CategoryPipeline Category = "PIPELINE"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid   = "ERR_101_CONFIG_INVALID"
	ErrCodeInvalidChunking = "ERR_102_INVALID_CHUNKING"
	ErrCodeConfigNotFound  = "ERR_103_CONFIG_NOT_FOUND"
	ErrCodeUnknownProvider = "ERR_104_UNKNOWN_PROVIDER"
	ErrCodeInvalidArgument = "ERR_105_INVALID_ARGUMENT"

	// Provider errors (200-299)
	ErrCodeProviderNetwork     = "ERR_201_PROVIDER_NETWORK"
	ErrCodeProviderAuth        = "ERR_202_PROVIDER_AUTH"
	ErrCodeProviderRateLimit   = "ERR_203_PROVIDER_RATE_LIMIT"
	ErrCodeProviderMalformed   = "ERR_204_PROVIDER_MALFORMED"
	ErrCodeProviderDimension   = "ERR_205_PROVIDER_DIMENSION"
	ErrCodeProviderTimeout     = "ERR_206_PROVIDER_TIMEOUT"
	ErrCodeProviderUnavailable = "ERR_207_PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected    = "ERR_208_PROVIDER_REJECTED"

	// Store errors (300-399)
	ErrCodeStoreIO           = "ERR_301_STORE_IO"
	ErrCodeDimensionMismatch = "ERR_302_DIMENSION_MISMATCH"
	ErrCodeStoreSchema       = "ERR_303_STORE_SCHEMA"
	ErrCodeStoreLocked       = "ERR_304_STORE_LOCKED"
	ErrCodePageNotFound      = "ERR_305_PAGE_NOT_FOUND"
	ErrCodeStoreCorrupt      = "ERR_306_STORE_CORRUPT"

	// Pipeline errors (400-499)
	ErrCodePipelineFailed = "ERR_401_PIPELINE_FAILED"
	ErrCodeQueueFull      = "ERR_402_QUEUE_FULL"
	ErrCodeInvalidPage    = "ERR_403_INVALID_PAGE"
	ErrCodeShutdown       = "ERR_404_SHUTDOWN"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryProvider
	case '3':
		return CategoryStore
	case '4':
		return CategoryPipeline
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeStoreSchema:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether a failure with this code may succeed on a later attempt.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderNetwork, ErrCodeProviderTimeout, ErrCodeProviderRateLimit,
		ErrCodeStoreLocked, ErrCodeQueueFull:
		return true
	default:
		return false
	}
}
