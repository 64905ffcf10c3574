package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ProxyCollector polls the proxy daemon's stats API for per-user
// cumulative traffic counters.
type ProxyCollector struct {
	url    string
	token  string
	client *http.Client
}

// NewProxyCollector creates a collector for the stats endpoint at url.
// token, when non-empty, is sent as a bearer token.
func NewProxyCollector(url, token string) *ProxyCollector {
	return &ProxyCollector{
		url:   url,
		token: token,
		// Per-call deadlines come from the snapshot context; this is a
		// backstop against a wedged transport.
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type proxyStatsResponse struct {
	Users []proxyUserStat `json:"users"`
}

type proxyUserStat struct {
	Name     string `json:"name"`
	Uplink   int64  `json:"uplink_bytes"`
	Downlink int64  `json:"downlink_bytes"`
}

// Snapshot fetches the current per-user counters.
func (c *ProxyCollector) Snapshot(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("proxy collector: building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy collector: fetching stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy collector: stats endpoint returned %s", resp.Status)
	}

	var stats proxyStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("proxy collector: decoding stats: %w", err)
	}

	snap := make(Snapshot, len(stats.Users))
	for _, u := range stats.Users {
		if u.Name == "" {
			return nil, fmt.Errorf("proxy collector: stats entry with empty user name")
		}
		if u.Uplink < 0 || u.Downlink < 0 {
			return nil, fmt.Errorf("proxy collector: negative counter for user %q", u.Name)
		}
		snap[u.Name] = Counters{Uplink: u.Uplink, Downlink: u.Downlink}
	}
	return snap, nil
}
