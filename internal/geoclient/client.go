// Package geoclient reverse-geocodes check-in coordinates into a display address.
package geoclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client calls a Nominatim-compatible reverse geocoding service.
type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
	Skip      bool
}

// New creates a client with a short timeout; geocoding is best effort.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL:   baseURL,
		UserAgent: "ojtrack/1.0",
		Skip:      skip,
		HTTP: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Reverse returns the formatted address for the coordinates. With Skip set it
// returns an empty address.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	if c.Skip {
		return "", nil
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocoder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("geocoder error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		DisplayName string `json:"display_name"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("geocoder error: %s", out.Error)
	}
	return out.DisplayName, nil
}

// Health checks if the geocoder is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/status", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("geocoder unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("geocoder unhealthy: %s", resp.Status)
	}

	return nil
}
