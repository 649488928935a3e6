package cloudflare

import (
	"fmt"
	"net/http"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
)

// classifyTransport converts a failure to reach the API into a connection
// failure.
func classifyTransport(op string, err error) error {
	return &domain.RemoteError{Kind: domain.KindConnectionFailure, Op: op, Err: err}
}

// classifyStatus returns nil for 2xx responses. 429 is rate limiting; any
// other status is a remote status error carrying the response body.
func classifyStatus(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status <= 299:
		return nil
	case status == http.StatusTooManyRequests:
		return &domain.RemoteError{
			Kind:       domain.KindRateLimited,
			Op:         op,
			StatusCode: status,
			Body:       truncate(body),
			Err:        fmt.Errorf("status %d", status),
		}
	default:
		return &domain.RemoteError{
			Kind:       domain.KindRemoteStatus,
			Op:         op,
			StatusCode: status,
			Body:       truncate(body),
			Err:        fmt.Errorf("status %d", status),
		}
	}
}
