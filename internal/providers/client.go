package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/blunderlab/blunderlab/internal/models"
)

const (
	maxAttempts      = 3
	firstBackoff     = time.Second
	defaultUserAgent = "blunderlab/1.0 (+https://github.com/blunderlab/blunderlab)"
)

// client wraps an http.Client with a token-bucket limiter and a bounded
// retry loop for 429 and 5xx responses. Both adapters share it.
type client struct {
	http      *http.Client
	limiter   *rate.Limiter
	provider  models.Provider
	backoff   time.Duration
	userAgent string
	log       *logrus.Entry
}

func newClient(provider models.Provider, requestsPerSecond float64) *client {
	return &client{
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		provider:  provider,
		backoff:   firstBackoff,
		userAgent: defaultUserAgent,
		log:       logrus.WithField("provider", string(provider)),
	}
}

// get fetches url and returns the body. Status handling:
// 404 is reported through notFound (the caller knows whether the URL
// identifies a user), 429 and 5xx retry with doubling backoff until the
// attempt budget runs out, anything else non-2xx is fatal.
func (c *client) get(ctx context.Context, url string, accept string) ([]byte, error) {
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, retry, err := c.once(ctx, url, accept)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}

		c.log.WithError(err).WithField("attempt", attempt).Warn("retrying provider request")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *client) once(ctx context.Context, url, accept string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, &FatalError{Provider: c.provider, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, &TransientError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, errNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &RateLimitedError{Provider: c.provider}
	case resp.StatusCode >= 500:
		return nil, true, &TransientError{Provider: c.provider, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, false, &FatalError{Provider: c.provider, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, &TransientError{Provider: c.provider, Err: err}
	}
	return data, false, nil
}

// errNotFound is internal; adapters translate it to UserNotFoundError
// when the URL names a user, or ignore it for optional resources.
var errNotFound = fmt.Errorf("not found")
