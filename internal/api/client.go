// Package api is the remote resource client the cache loads through.
// Endpoint schemas are owned by the server; this client only moves
// bytes and reports how many, for bandwidth accounting.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/navsense/navsense/internal/model"
)

// routeEndpoints maps application routes to the resource each view
// loads first.
var routeEndpoints = map[string]string{
	model.RouteDashboard:     "/api/analytics/summary",
	model.RouteContacts:      "/api/contacts",
	model.RouteConversations: "/api/conversations",
	model.RouteTasks:         "/api/tasks",
	model.RouteCalendar:      "/api/calendar/events",
	model.RouteAnalytics:     "/api/analytics",
}

// EndpointFor returns the resource path behind route, or "" when the
// route has no prefetchable resource.
func EndpointFor(route string) string {
	return routeEndpoints[route]
}

// Client fetches resources over HTTP.
type Client struct {
	base string
	hc   *http.Client
	log  *zap.Logger
}

// New creates a client for the given base URL. The timeout bounds every
// request so a hung fetch cannot hold a prefetch slot forever.
func New(base string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Get fetches path and returns the response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}

	c.log.Debug("fetched resource", zap.String("path", path), zap.Int("bytes", len(body)))
	return body, nil
}
