package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/logging"
	"golang.org/x/sync/singleflight"
)

const (
	// Retry configuration for transient errors
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// API is the media server's HTTP API.
type API struct {
	base       *url.URL
	token      string
	httpClient *http.Client
	retryWait  time.Duration
	clock      clock.Clock
	group      singleflight.Group
	log        *logrus.Entry
}

// APIOption configures an API.
type APIOption func(*API)

// WithClock sets the clock used for retry backoff.
func WithClock(clk clock.Clock) APIOption {
	return func(a *API) {
		if clk != nil {
			a.clock = clk
		}
	}
}

// NewAPI creates a client for the server at baseURL.
func NewAPI(baseURL, token string, timeout time.Duration, log logrus.FieldLogger, opts ...APIOption) (*API, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &API{
		base:       u,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		retryWait:  baseRetryWait,
		clock:      clock.New(),
		log:        logging.Component(log, "api"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// FetchState returns the authoritative state for profile. Concurrent calls
// for the same profile share one request.
func (a *API) FetchState(ctx context.Context, profile string) (ServerState, error) {
	v, err, shared := a.group.Do("state:"+profile, func() (any, error) {
		var st ServerState
		err := a.get(ctx, BuildURL("/api/playback/state", map[string]string{"profile": profile}), &st)
		return st, err
	})
	if shared {
		a.log.WithField("profile", profile).Debug("joined in-flight resync")
	}
	if err != nil {
		return ServerState{}, err
	}
	return v.(ServerState), nil
}

// CurrentProfile asks the server which profile this client plays for.
func (a *API) CurrentProfile(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.get(ctx, "/api/profiles/current", &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", encerrors.ErrNoProfile
	}
	return resp.ID, nil
}

// StreamURL returns the content address of an item.
func (a *API) StreamURL(itemID, profile string) string {
	path := BuildURL("/api/items/"+url.PathEscape(itemID)+"/stream", map[string]string{"profile": profile})
	return a.base.String() + path
}

// WebSocketURL returns the push channel address for profile.
func (a *API) WebSocketURL(profile string) string {
	u := *a.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	u.RawQuery = url.Values{"profile": {profile}}.Encode()
	return u.String()
}

// Header returns the headers sent with every request.
func (a *API) Header() http.Header {
	h := http.Header{}
	if a.token != "" {
		h.Set("Authorization", "Bearer "+a.token)
	}
	return h
}

func (a *API) get(ctx context.Context, path string, result any) error {
	return a.request(ctx, http.MethodGet, path, result)
}

func (a *API) request(ctx context.Context, method, path string, result any) error {
	fullURL := a.base.String() + path
	log := a.log.WithFields(logrus.Fields{"method": method, "url": fullURL})
	log.Debug("request")

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Wait before retry (skip on first attempt)
		if attempt > 0 {
			wait := a.retryWait * time.Duration(1<<(attempt-1)) // exponential backoff
			log.WithError(lastErr).Debugf("retry %d/%d after %v", attempt, maxRetries, wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-a.clock.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header = a.Header()
		req.Header.Set("Accept", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", encerrors.ErrNetworkError, err)
			continue // Retry on network error
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		log.WithField("status", resp.StatusCode).Debug("response")

		// Retry on 5xx server errors
		if resp.StatusCode >= 500 {
			lastErr = newAPIError(resp.StatusCode, respBody)
			continue
		}

		// Don't retry 4xx errors
		if resp.StatusCode >= 400 {
			return newAPIError(resp.StatusCode, respBody)
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	apiErr.Status = status
	return apiErr
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// BuildURL builds a URL with query parameters.
func BuildURL(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}

	u, _ := url.Parse(path)
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
