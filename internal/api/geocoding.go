package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Place is one reverse-geocoding result.
type Place struct {
	Name       string            `json:"name"`
	LocalNames map[string]string `json:"local_names,omitempty"`
	Latitude   float64           `json:"lat"`
	Longitude  float64           `json:"lon"`
	Country    string            `json:"country"`
	State      string            `json:"state,omitempty"`
}

// GeoConfig holds the settings for the geocoding client.
type GeoConfig struct {
	// BaseURL is the geocoding service root.
	BaseURL string
	// APIKey is sent as the appid query parameter.
	APIKey string
	// UserAgent identifies this client to the server.
	UserAgent string
	// Timeout bounds one request round trip. Zero means DefaultTimeout.
	Timeout time.Duration
}

// GeoClient is the typed reverse-geocoding client.
type GeoClient struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
}

// NewGeoClient creates a geocoding client from the given config.
func NewGeoClient(cfg GeoConfig) *GeoClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &GeoClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
	}
}

// ReverseGeocode resolves a coordinate to at most limit places.
// Non-2xx responses become *StatusError.
func (c *GeoClient) ReverseGeocode(ctx context.Context, lat, lng float64, limit int) ([]Place, error) {
	query := url.Values{
		"lat":   {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(lng, 'f', -1, 64)},
		"limit": {strconv.Itoa(limit)},
		"appid": {c.apiKey},
	}

	u := c.baseURL + "/geo/1.0/reverse?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
	}

	var places []Place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	return places, nil
}
