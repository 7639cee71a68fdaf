package validation

import (
	"net/url"
	"slices"
	"strings"

	apperrors "go-receipt-capture/internal/errors"
)

// URLValidator checks camera endpoint URLs
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewURLValidator accepts http and https URLs on any host
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: []string{"http", "https"},
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewURLValidatorWithOptions creates a URL validator with custom options
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateSnapshotURL validates a camera still-image URL
func (v *URLValidator) ValidateSnapshotURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return apperrors.NewValidationError("Invalid URL format", err)
	}

	if !slices.Contains(v.allowedSchemes, strings.ToLower(parsedURL.Scheme)) {
		return apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	if parsedURL.Hostname() == "" {
		return apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if len(v.allowedHosts) > 0 && !slices.Contains(v.allowedHosts, parsedURL.Hostname()) {
		return apperrors.NewValidationError("URL host not allowed", nil)
	}

	return nil
}
