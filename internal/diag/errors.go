package diag

import (
	"errors"
	"fmt"
)

// Sentinel errors for whole-operation preconditions. Handlers map these to
// transport-level responses; the core only cares about identity.
var (
	// ErrNotFound covers missing storefronts, versions, scans and themes.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means no valid credential exists for the storefront.
	ErrUnauthorized = errors.New("storefront is not authenticated")

	// ErrReadOnly means the relevant kill switch is set and the operation
	// class is disabled service-wide.
	ErrReadOnly = errors.New("operation disabled: read-only mode is active")

	// ErrQuotaExceeded means the per-storefront daily cap was hit.
	ErrQuotaExceeded = errors.New("daily quota exceeded")
)

// APIError is a non-success response from the external read/write API.
// The provider's status code is carried for upstream reporting.
type APIError struct {
	Status int
	Op     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform API %s failed with status %d", e.Op, e.Status)
}

// IsPermissionDenied reports whether the error is an APIError for a
// missing API scope (HTTP 403).
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 403
}
