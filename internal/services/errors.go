package services

import (
	"errors"
	"fmt"
	"strings"
)

// Retryable markers.
var (
	ErrTransient   = errors.New("transient failure")
	ErrRateLimited = errors.New("rate limited")
	ErrNetwork     = errors.New("network error")
	ErrTimeout     = errors.New("timeout")
)

// Fatal markers.
var (
	ErrValidation       = errors.New("validation error")
	ErrUnsupportedMedia = errors.New("unsupported media")
	ErrAuthentication   = errors.New("authentication failed")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
)

// ErrExternalTool tags failures of spawned tools. Whether it retries depends on
// the other markers it is combined with; on its own it is treated as transient.
var ErrExternalTool = errors.New("external tool error")

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether err carries one of the fatal markers.
func IsFatal(err error) bool {
	for _, marker := range []error{
		ErrValidation,
		ErrUnsupportedMedia,
		ErrAuthentication,
		ErrQuotaExceeded,
		ErrConfiguration,
		ErrNotFound,
	} {
		if errors.Is(err, marker) {
			return true
		}
	}
	return false
}

// IsMarked reports whether err already carries any classification marker.
func IsMarked(err error) bool {
	if IsFatal(err) {
		return true
	}
	for _, marker := range []error{ErrTransient, ErrRateLimited, ErrNetwork, ErrTimeout, ErrExternalTool} {
		if errors.Is(err, marker) {
			return true
		}
	}
	return false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
