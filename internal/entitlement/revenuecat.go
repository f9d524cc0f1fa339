// Package entitlement provides Entitlement Source adapters: a RevenueCat
// REST lookup, a TTL cache over any source, and a static source for the
// CLI and tests.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roach88/storygate/internal/access"
)

// DefaultBaseURL is the RevenueCat REST API root.
const DefaultBaseURL = "https://api.revenuecat.com"

// maxBody bounds how much of a subscriber response is read.
const maxBody = 1 << 20

// ErrUnexpectedStatus is returned for a non-2xx subscriber lookup.
var ErrUnexpectedStatus = errors.New("unexpected status")

// RevenueCat looks a user's entitlement up in RevenueCat.
//
// A user is subscribed while subscriber.entitlements[EntitlementID] exists
// and its expires_date is null (lifetime) or in the future.
type RevenueCat struct {
	baseURL       string
	apiKey        string
	entitlementID string
	client        *http.Client
	now           func() time.Time
}

// RevenueCatOption configures a RevenueCat source.
type RevenueCatOption func(*RevenueCat)

// WithBaseURL points the source at another API root.
func WithBaseURL(u string) RevenueCatOption {
	return func(rc *RevenueCat) { rc.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) RevenueCatOption {
	return func(rc *RevenueCat) { rc.client = c }
}

// WithClock sets the clock used to compare expiry dates.
func WithClock(now func() time.Time) RevenueCatOption {
	return func(rc *RevenueCat) { rc.now = now }
}

// NewRevenueCat creates a RevenueCat source for entitlementID.
func NewRevenueCat(apiKey, entitlementID string, opts ...RevenueCatOption) *RevenueCat {
	rc := &RevenueCat{
		baseURL:       DefaultBaseURL,
		apiKey:        apiKey,
		entitlementID: entitlementID,
		client:        &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// FetchEntitlement implements access.EntitlementSource.
func (rc *RevenueCat) FetchEntitlement(ctx context.Context, userID string) (access.Entitlement, error) {
	endpoint := rc.baseURL + "/v1/subscribers/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return access.Entitlement{}, fmt.Errorf("revenuecat: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+rc.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := rc.client.Do(req)
	if err != nil {
		return access.Entitlement{}, fmt.Errorf("revenuecat: get subscriber: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return access.Entitlement{}, fmt.Errorf("revenuecat: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return access.Entitlement{}, fmt.Errorf("revenuecat: %w %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return access.Entitlement{}, fmt.Errorf("revenuecat: invalid json body")
	}

	return rc.parse(body)
}

func (rc *RevenueCat) parse(body []byte) (access.Entitlement, error) {
	var found gjson.Result
	gjson.GetBytes(body, "subscriber.entitlements").ForEach(func(key, value gjson.Result) bool {
		if key.String() == rc.entitlementID {
			found = value
			return false
		}
		return true
	})
	if !found.Exists() {
		return access.Entitlement{}, nil
	}

	expires := found.Get("expires_date")
	if !expires.Exists() || expires.Type == gjson.Null {
		return access.Entitlement{Active: true}, nil
	}
	at, err := time.Parse(time.RFC3339, expires.String())
	if err != nil {
		return access.Entitlement{}, fmt.Errorf("revenuecat: parse expires_date %q: %w", expires.String(), err)
	}
	return access.Entitlement{Active: at.After(rc.now()), ExpiresAt: at.UTC()}, nil
}
