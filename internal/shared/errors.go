package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Metadata store errors
	ErrRecordNotFound = fmt.Errorf("record not found")
	ErrRecordExists   = fmt.Errorf("record already exists")

	// Object store errors
	ErrObjectMissing = fmt.Errorf("object not found in store")
	ErrUploadFailed  = fmt.Errorf("upload failed")

	// Acquisition errors. ErrSourceNotFound is the only definitive outcome of the
	// converter; every other acquisition error is transient.
	ErrSourceNotFound   = fmt.Errorf("source not found by converter")
	ErrTransient        = fmt.Errorf("transient acquisition failure")
	ErrSessionFailed    = fmt.Errorf("browser session failed")
	ErrBadResponse      = fmt.Errorf("unexpected response from converter")
	ErrSelectorTimeout  = fmt.Errorf("selector not found before timeout")
	ErrResultTimeout    = fmt.Errorf("result section did not appear")
	ErrLinkUnavailable  = fmt.Errorf("download link unavailable")
	ErrRetriesExhausted = fmt.Errorf("retries exhausted")

	// Download and extraction errors
	ErrDownloadFailed  = fmt.Errorf("download failed")
	ErrExtractorFailed = fmt.Errorf("extractor failed")
	ErrFallbackMissing = fmt.Errorf("no fallback strategy configured")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
