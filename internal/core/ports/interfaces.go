package ports

import (
	"context"
	"time"

	"baysebatch/internal/core/domain"
)

// Interpreter defines the contract for the remote interpretation API.
type Interpreter interface {
	// Submit posts one URL for interpretation.
	// Returns the raw response body, untouched, on HTTP 200.
	Submit(ctx context.Context, s domain.Submission) ([]byte, error)

	// CheckStatus polls the status endpoint once.
	// StatusFailed and StatusUnknown come back together with a *domain.RemoteStatusError,
	// built by domain.Status.Check.
	CheckStatus(ctx context.Context, requestID string) (domain.Status, error)

	// FetchResult retrieves the full result payload for a completed request.
	FetchResult(ctx context.Context, requestID string) ([]byte, error)
}

// LineSink persists line-delimited records.
type LineSink interface {
	// WriteLine appends one record followed by a newline.
	WriteLine(line []byte) error
	Close() error
}

// Sleeper blocks between network calls.
type Sleeper interface {
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}
