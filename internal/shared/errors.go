package shared

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrConfig             = fmt.Errorf("configuration error")
	ErrMissingConfig      = fmt.Errorf("%w: configuration not found", ErrConfig)
	ErrInvalidConfig      = fmt.Errorf("%w: invalid configuration", ErrConfig)
	ErrMissingCredentials = fmt.Errorf("%w: missing credentials", ErrConfig)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrConfig)
	ErrDuplicateAccount   = fmt.Errorf("%w: duplicate account", ErrConfig)
	ErrNoActiveAccount    = fmt.Errorf("%w: no active account", ErrConfig)

	// Storage errors
	ErrStorage = fmt.Errorf("storage error")

	// Network errors
	ErrNetwork            = fmt.Errorf("network error")
	ErrAPIRequest         = fmt.Errorf("%w: API request failed", ErrNetwork)
	ErrServiceUnavailable = fmt.Errorf("%w: service unavailable", ErrNetwork)
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Conversion errors
	ErrEmptyPayload    = fmt.Errorf("empty payload")
	ErrTranscodeFailed = fmt.Errorf("transcode failed")
	ErrOutputMissing   = fmt.Errorf("output missing")

	// Orchestration errors
	ErrDownloader     = fmt.Errorf("downloader error")
	ErrAlreadyRunning = fmt.Errorf("download already running")
	ErrGuarantee      = fmt.Errorf("execution guarantee unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("%w: invalid input", ErrConfig)
	ErrMissingArgument = fmt.Errorf("%w: missing required argument", ErrConfig)
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", ErrConfig)
)

// Kind classifies an error into the taxonomy reported to the log sink.
type Kind string

const (
	KindInfo            Kind = "info"
	KindConfig          Kind = "config"
	KindStorage         Kind = "storage"
	KindNetwork         Kind = "network"
	KindTranscodeFailed Kind = "transcode_failed"
	KindOutputMissing   Kind = "output_missing"
	KindEmptyPayload    Kind = "empty_payload"
	KindDownloader      Kind = "downloader"
	KindInternal        Kind = "internal"
)

// KindOf maps an error chain to its [Kind].
//
// Conversion kinds are checked before network so a transcoder timeout reports as transcode_failed.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInfo
	case errors.Is(err, ErrEmptyPayload):
		return KindEmptyPayload
	case errors.Is(err, ErrTranscodeFailed):
		return KindTranscodeFailed
	case errors.Is(err, ErrOutputMissing):
		return KindOutputMissing
	case errors.Is(err, ErrDownloader):
		return KindDownloader
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrTimeout):
		return KindNetwork
	default:
		return KindInternal
	}
}
