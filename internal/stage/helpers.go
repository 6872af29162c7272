package stage

import (
	"context"
	"errors"

	"stockpile/internal/retry"
	"stockpile/internal/services"
)

// skippable reports whether a per-item failure may be logged and skipped
// rather than failing the stage. Cancellation and account-level faults
// always stop the stage.
func skippable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	for _, marker := range []error{services.ErrConfiguration, services.ErrAuthentication, services.ErrQuotaExceeded} {
		if errors.Is(err, marker) {
			return false
		}
	}
	return retry.IsExhausted(err) || services.IsFatal(err)
}
