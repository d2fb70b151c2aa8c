package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx provider response. The body is kept (truncated) so
// quota errors carrying retry-delay hints can be inspected.
type APIError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "gemini status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("gemini %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("gemini %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func newAPIError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// IsRetryable reports whether a failed call is worth repeating: network
// errors and throttling/server statuses are, client errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *APIError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

var (
	protoDelayPattern = regexp.MustCompile(`retry_delay\s*\{\s*seconds:\s*([0-9]+(?:\.[0-9]+)?)`)
	jsonDelayPattern  = regexp.MustCompile(`"retryDelay"\s*:\s*"([0-9]+(?:\.[0-9]+)?)s"`)
)

// ExtractRetryDelay pulls the provider-suggested minimum retry delay out of
// a quota error, in either the proto-text or JSON form the API emits.
func ExtractRetryDelay(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	message := err.Error()
	for _, pattern := range []*regexp.Regexp{protoDelayPattern, jsonDelayPattern} {
		if m := pattern.FindStringSubmatch(message); m != nil {
			seconds, parseErr := strconv.ParseFloat(m[1], 64)
			if parseErr != nil || seconds <= 0 {
				continue
			}
			return time.Duration(seconds * float64(time.Second)), true
		}
	}
	return 0, false
}
