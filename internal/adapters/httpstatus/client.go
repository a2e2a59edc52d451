package httpstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/rotor/internal/application"
)

const defaultClientTimeout = 5 * time.Second

// Client reads the status surface of a running fleet.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient accepts a bare host:port or a full base URL.
func NewClient(addr string, httpClient *http.Client) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{baseURL: base, http: httpClient}
}

func (c *Client) Status(ctx context.Context) (application.FleetStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return application.FleetStatus{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return application.FleetStatus{}, fmt.Errorf("query status surface: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return application.FleetStatus{}, fmt.Errorf("query status surface: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var status application.FleetStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return application.FleetStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}
