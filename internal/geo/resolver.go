package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/noah-isme/backend-mithaas/internal/obs"
	"github.com/noah-isme/backend-mithaas/internal/resilience"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Source identifies where a resolved coordinate came from.
type Source string

const (
	// SourceProvider means the upstream geocoder answered.
	SourceProvider Source = "provider"
	// SourceFallback means the local pincode-prefix table answered.
	SourceFallback Source = "fallback"
	// SourceDefault means the city-center default was used.
	SourceDefault Source = "default"
)

// Forwarder performs a forward-geocoding lookup for a free-text query.
type Forwarder interface {
	Forward(ctx context.Context, query string) (Point, error)
}

// NominatimClient queries the OpenStreetMap Nominatim search endpoint.
// Nominatim requires a User-Agent and allows at most one request per second,
// so lookups are pre-throttled through a shared limiter.
type NominatimClient struct {
	HTTP      resilience.HTTPClient
	BaseURL   string
	UserAgent string
	Limiter   *rate.Limiter
}

// NewNominatimClient constructs a throttled client for the given base URL.
func NewNominatimClient(baseURL, userAgent string, timeout time.Duration) *NominatimClient {
	return &NominatimClient{
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     resilience.NewBreaker(5, 0.6, 30*time.Second),
			MaxAttempts: 2,
			BaseBackoff: 200 * time.Millisecond,
			Timeout:     timeout,
		},
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		Limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Forward resolves a free-text query to its best-match coordinate.
func (c *NominatimClient) Forward(ctx context.Context, query string) (Point, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return Point{}, err
		}
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return Point{}, err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return Point{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Point{}, fmt.Errorf("geocode: unexpected status %s", resp.Status)
	}
	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Point{}, fmt.Errorf("geocode: decode response: %w", err)
	}
	if len(results) == 0 {
		return Point{}, errors.New("geocode: empty result")
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Point{}, fmt.Errorf("geocode: parse lat: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Point{}, fmt.Errorf("geocode: parse lon: %w", err)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// Resolver turns a pincode or address into coordinates. Upstream failure is
// expected and recovered locally; Resolve never fails so delivery pricing
// stays available through provider outages.
type Resolver struct {
	Forwarder Forwarder
	Country   string
	Logger    zerolog.Logger
}

// Resolve returns the best coordinate for the given pincode and/or address
// along with the source that produced it.
func (r *Resolver) Resolve(ctx context.Context, pincode, address string) (Point, Source) {
	pincode = strings.TrimSpace(pincode)
	address = strings.TrimSpace(address)

	if r != nil && r.Forwarder != nil && (pincode != "" || address != "") {
		point, err := r.Forwarder.Forward(ctx, r.query(pincode, address))
		if err == nil {
			countResolve(SourceProvider)
			return point, SourceProvider
		}
		r.Logger.Warn().Err(err).Str("pincode", pincode).Msg("geocode upstream failed, using fallback")
	}

	if point, ok := fallbackByPincode(pincode); ok {
		countResolve(SourceFallback)
		return point, SourceFallback
	}
	countResolve(SourceDefault)
	return defaultPoint, SourceDefault
}

func (r *Resolver) query(pincode, address string) string {
	parts := make([]string, 0, 3)
	if address != "" {
		parts = append(parts, address)
	}
	if pincode != "" {
		parts = append(parts, pincode)
	}
	country := "India"
	if r != nil && strings.TrimSpace(r.Country) != "" {
		country = r.Country
	}
	parts = append(parts, country)
	return strings.Join(parts, ", ")
}

func countResolve(src Source) {
	if obs.GeocodeResolveTotal != nil {
		obs.GeocodeResolveTotal.WithLabelValues(string(src)).Inc()
	}
}
