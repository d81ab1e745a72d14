package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go-attendance-agent/models"
)

// HTTPLocator resolves the terminal's position from a local geolocation
// bridge (e.g. a geoclue HTTP frontend). It caches the last fix so a
// MaximumAge policy can skip a slow fresh lookup.
type HTTPLocator struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.Mutex
	cached   models.Location
	cachedAt time.Time
}

// NewHTTPLocator creates a locator for the given bridge base URL.
func NewHTTPLocator(baseURL string) *HTTPLocator {
	return &HTTPLocator{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Locate requests a one-shot position fix. Failures are classified as
// permission denial (401/403 from the bridge), timeout (deadline
// exceeded) or unavailable (anything else).
func (l *HTTPLocator) Locate(ctx context.Context, opts LocateOptions) (models.Location, error) {
	if opts.MaximumAge > 0 {
		l.mu.Lock()
		if !l.cachedAt.IsZero() && time.Since(l.cachedAt) <= opts.MaximumAge {
			loc := l.cached
			l.mu.Unlock()
			return loc, nil
		}
		l.mu.Unlock()
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	accuracy := "low"
	if opts.HighAccuracy {
		accuracy = "high"
	}
	url := fmt.Sprintf("%s/api/position?accuracy=%s", l.baseURL, accuracy)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Location{}, NewError(CapabilityLocation, KindUnavailable, err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Location{}, NewError(CapabilityLocation, KindTimeout, err)
		}
		return models.Location{}, NewError(CapabilityLocation, KindUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.Location{}, NewError(CapabilityLocation, KindPermissionDenied,
			fmt.Errorf("position request rejected with status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return models.Location{}, NewError(CapabilityLocation, KindUnavailable,
			fmt.Errorf("position request failed with status %d", resp.StatusCode))
	}

	var loc models.Location
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return models.Location{}, NewError(CapabilityLocation, KindUnavailable,
			fmt.Errorf("failed to decode position response: %w", err))
	}

	l.mu.Lock()
	l.cached = loc
	l.cachedAt = time.Now()
	l.mu.Unlock()

	return loc, nil
}
