// Package errors provides structured error handling for the Nous backend.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (catalog, index files)
//   - 3XX: Transient errors (connection, timeout)
//   - 4XX: Validation errors
//   - 5XX: Pipeline errors (index, search, delete)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates persistent store errors.
	CategoryStore Category = "STORE"
	// CategoryTransient indicates connection and timeout errors.
	CategoryTransient Category = "TRANSIENT"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryPipeline indicates index/search/delete pipeline errors.
	CategoryPipeline Category = "PIPELINE"
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
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeClassNotFound  = "ERR_201_CLASS_NOT_FOUND"
	ErrCodeObjectNotFound = "ERR_202_OBJECT_NOT_FOUND"
	ErrCodeCorruptIndex   = "ERR_203_CORRUPT_INDEX"
	ErrCodeStoreLocked    = "ERR_204_STORE_LOCKED"

	// Transient errors (300-399)
	ErrCodeStoreTimeout     = "ERR_301_STORE_TIMEOUT"
	ErrCodeStoreUnavailable = "ERR_302_STORE_UNAVAILABLE"
	ErrCodeEmbedUnavailable = "ERR_303_EMBED_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeEmptyQuery   = "ERR_402_QUERY_EMPTY"
	ErrCodeInvalidToken = "ERR_403_INVALID_TOKEN"

	// Pipeline errors (500-599), the user-facing taxonomy
	ErrCodeNotIndexedYet    = "ERR_501_NOT_INDEXED_YET"
	ErrCodeSchemaInitFailed = "ERR_502_SCHEMA_INIT_FAILED"
	ErrCodeIndexFailed      = "ERR_503_INDEX_FAILED"
	ErrCodeSearchFailed     = "ERR_504_SEARCH_FAILED"
	ErrCodeMalformedContent = "ERR_505_MALFORMED_CONTENT"
	ErrCodeDeleteFailed     = "ERR_506_DELETE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryPipeline
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryTransient
	case '4':
		return CategoryValidation
	default:
		return CategoryPipeline
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeStoreLocked:
		return SeverityFatal
	}

	// NotIndexedYet is an expected user-visible condition, not a defect.
	if code == ErrCodeNotIndexedYet || isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreTimeout, ErrCodeStoreUnavailable, ErrCodeEmbedUnavailable:
		return true
	default:
		return false
	}
}
