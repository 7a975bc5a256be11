// Package classify implements the Error Classifier (C1): a pure function
// mapping any upstream failure to the routeerr taxonomy.
package classify

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/openai/openai-go/v3"

	"github.com/openlane-dev/freegate/internal/routeerr"
)

// statusCoder is implemented by errors that know their upstream HTTP status.
// Adapters other than the openai-go client can satisfy this to get the same
// classification without the classifier knowing about their concrete type.
type statusCoder interface {
	HTTPStatus() int
}

// Classify maps err into a *routeerr.Error for the given provider/model,
// following the ordered rules Classify never returns nil:
// a nil err is treated as a programmer error and classified as Other.
func Classify(err error, provider, model string) *routeerr.Error {
	if err == nil {
		return routeerr.New(routeerr.KindOther, provider, model, "classify called with nil error")
	}

	// Already classified (e.g. re-raised from a nested call) — pass through.
	if existing, ok := routeerr.As(err); ok {
		return existing
	}

	if isCancelled(err) {
		return routeerr.Wrap(routeerr.KindCancelled, provider, model, 0, err)
	}

	if status, ok := httpStatus(err); ok {
		return routeerr.Wrap(classifyStatus(status), provider, model, status, err)
	}

	if kind, ok := classifyNetworkError(err); ok {
		return routeerr.Wrap(kind, provider, model, 0, err)
	}

	return routeerr.Wrap(routeerr.KindOther, provider, model, 0, err)
}

func classifyStatus(status int) routeerr.Kind {
	switch {
	case status == 404:
		return routeerr.KindNotFound
	case status == 429:
		return routeerr.KindRateLimit
	case status >= 400 && status < 500:
		return routeerr.KindClientError
	default:
		return routeerr.KindOther
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// httpStatus recovers an HTTP status from the error or its cause chain. It
// understands the openai-go SDK's *openai.Error and any adapter-supplied
// statusCoder.
func httpStatus(err error) (int, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// classifyNetworkError recognizes low-level network error codes.
// ENETUNREACH/ECONNRESET are transient — same node may recover on the next
// attempt. ECONNREFUSED/EHOSTUNREACH/ENOTFOUND/ETIMEDOUT indicate the
// provider endpoint itself is unreachable.
func classifyNetworkError(err error) (routeerr.Kind, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return routeerr.KindProviderNetwork, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return routeerr.KindProviderNetwork, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return routeerr.KindProviderNetwork, true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENETUNREACH, syscall.ECONNRESET:
			return routeerr.KindRetryableNetwork, true
		case syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ETIMEDOUT:
			return routeerr.KindProviderNetwork, true
		}
	}

	return "", false
}
