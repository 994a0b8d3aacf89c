package detector

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethgrid/pester"
)

// NewRetryingHTTPClient returns an HTTP client that retries transport errors
// and 5xx responses with exponential jitter backoff. maxRetries counts
// attempts; values below 1 mean a single attempt. Failed attempts are logged
// through slog rather than accumulated on the client.
func NewRetryingHTTPClient(timeout time.Duration, maxRetries int) *pester.Client {
	if maxRetries < 1 {
		maxRetries = 1
	}

	client := pester.NewExtendedClient(&http.Client{Timeout: timeout})
	client.MaxRetries = maxRetries
	client.Backoff = pester.ExponentialJitterBackoff
	client.KeepLog = false
	client.ContextLogHook = logAttempt
	client.Timeout = timeout

	return client
}

func logAttempt(ctx context.Context, e pester.ErrEntry) {
	attrs := []any{
		"method", e.Verb,
		"url", e.URL,
		"attempt", e.Attempt,
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	slog.Log(ctx, slog.LevelWarn, "github request attempt failed", attrs...)
}
