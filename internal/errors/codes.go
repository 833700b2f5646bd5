package errors

// Category groups errors by subsystem.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStore      Category = "STORE"
	CategoryProvider   Category = "PROVIDER"
	CategoryValidation Category = "VALIDATION"
	CategoryConnector  Category = "CONNECTOR"
	CategoryInternal   Category = "INTERNAL"
)

// Severity levels for logging and presentation.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
)

// Error codes. The first digit of the numeric part maps to a category:
// 1xx config, 2xx store, 3xx provider, 4xx validation, 5xx connector,
// 9xx internal.
const (
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"

	ErrCodeStoreFailure   = "ERR_201_STORE_FAILURE"
	ErrCodeStoreLocked    = "ERR_202_STORE_LOCKED"
	ErrCodeStoreNotFound  = "ERR_203_NOT_FOUND"
	ErrCodeStoreConflict  = "ERR_204_CONFLICT"
	ErrCodeStoreCorrupted = "ERR_205_STORE_CORRUPTED"

	ErrCodeProviderUnavailable = "ERR_301_PROVIDER_UNAVAILABLE"
	ErrCodeProviderTimeout     = "ERR_302_PROVIDER_TIMEOUT"
	ErrCodeProviderDimension   = "ERR_303_DIMENSION_MISMATCH"

	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"

	ErrCodeConnectorFetch      = "ERR_501_CONNECTOR_FETCH"
	ErrCodeConnectorConfig     = "ERR_502_CONNECTOR_CONFIG"
	ErrCodeConnectorNotIndexed = "ERR_503_CONNECTOR_NOT_INDEXABLE"

	ErrCodeInternal = "ERR_901_INTERNAL"
)

func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	case '5':
		return CategoryConnector
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupted, ErrCodeStoreLocked:
		return SeverityFatal
	case ErrCodeStoreNotFound, ErrCodeInvalidInput:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableCodes marks transient failures worth retrying with backoff.
var retryableCodes = map[string]bool{
	ErrCodeProviderUnavailable: true,
	ErrCodeProviderTimeout:     true,
	ErrCodeConnectorFetch:      true,
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
