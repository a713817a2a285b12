package delivery

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/noah-isme/backend-mithaas/internal/geo"
	"github.com/noah-isme/backend-mithaas/internal/obs"
	"github.com/noah-isme/backend-mithaas/internal/pricing"
)

// ErrOutOfServiceArea is returned when the destination is beyond the maximum
// delivery radius. Terminal: the caller must not retry or substitute a charge.
var ErrOutOfServiceArea = errors.New("delivery: destination out of service area")

// Mode selects between home delivery and store pickup.
type Mode string

const (
	// ModeDelivery quotes a home delivery.
	ModeDelivery Mode = "delivery"
	// ModePickup short-circuits to a free store pickup.
	ModePickup Mode = "pickup"
)

// Quote is the outcome of a delivery calculation. Recomputed per request,
// never persisted.
type Quote struct {
	DistanceKm float64       `json:"distanceKm"`
	Charge     pricing.Money `json:"charge"`
	IsFree     bool          `json:"isFree"`
	Zone       string        `json:"zone"`
	ETA        string        `json:"eta"`
}

// Config carries the tiered delivery schedule. Monetary values are in paise.
type Config struct {
	BaseCharge     pricing.Money
	BaseDistanceKm float64
	PerKmRate      pricing.Money
	FreeThreshold  pricing.Money
	FreeRadiusKm   float64
	MaxDistanceKm  float64
}

// Calculator computes deterministic delivery quotes with an optional
// read-through cache.
type Calculator struct {
	Origin geo.Point
	Config Config
	Cache  *Cache
}

// Quote computes the delivery quote for the given destination, order amount
// and mode. Identical inputs always produce identical quotes. Set bypassCache
// to force recomputation.
func (c *Calculator) Quote(ctx context.Context, dest geo.Point, orderAmount pricing.Money, mode Mode, bypassCache bool) (Quote, error) {
	if mode == ModePickup {
		countQuote("pickup", "miss")
		return Quote{DistanceKm: 0, Charge: 0, IsFree: true, Zone: "pickup", ETA: "Ready for pickup in 2-4 hours"}, nil
	}

	key := cacheKey(c.Origin, dest, orderAmount, mode)
	if c.Cache != nil && !bypassCache {
		var cached Quote
		if ok, err := c.Cache.Get(ctx, key, &cached); err == nil && ok {
			countQuote("ok", "hit")
			return cached, nil
		}
	}

	distance := round2(Haversine(c.Origin, dest))
	if distance > c.Config.MaxDistanceKm {
		countQuote("out_of_range", "miss")
		return Quote{}, fmt.Errorf("distance %.2fkm exceeds %.0fkm radius: %w", distance, c.Config.MaxDistanceKm, ErrOutOfServiceArea)
	}

	zone, eta := zoneFor(distance)
	charge := c.Config.BaseCharge
	if extra := distance - c.Config.BaseDistanceKm; extra > 0 {
		charge += pricing.Money(math.Round(extra * float64(c.Config.PerKmRate)))
	}

	// Free-delivery override is applied after the banded formula so it
	// always wins.
	free := orderAmount >= c.Config.FreeThreshold && distance <= c.Config.FreeRadiusKm
	if free {
		charge = 0
	}

	quote := Quote{DistanceKm: distance, Charge: charge, IsFree: free, Zone: zone, ETA: eta}
	if c.Cache != nil {
		_ = c.Cache.Set(ctx, key, quote)
	}
	countQuote("ok", "miss")
	return quote, nil
}

// EstimateRange returns a ±20% cost band for a distance, for display before
// an exact quote is available.
func (c *Calculator) EstimateRange(distanceKm float64) (min, max pricing.Money) {
	charge := float64(c.Config.BaseCharge)
	if extra := distanceKm - c.Config.BaseDistanceKm; extra > 0 {
		charge += extra * float64(c.Config.PerKmRate)
		return pricing.Money(math.Round(charge * 0.8)), pricing.Money(math.Round(charge * 1.2))
	}
	m := pricing.Money(math.Round(charge))
	return m, m
}

// Haversine returns the great-circle distance between two points in km.
func Haversine(a, b geo.Point) float64 {
	const earthRadiusKm = 6371

	lat1 := a.Lat * math.Pi / 180
	lon1 := a.Lon * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	lon2 := b.Lon * math.Pi / 180

	dlat := lat2 - lat1
	dlon := lon2 - lon1
	h := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// zoneFor maps a distance to its display zone and ETA bucket. Display only,
// never used in pricing.
func zoneFor(distanceKm float64) (zone, eta string) {
	switch {
	case distanceKm <= 5:
		return "city_center", "2-4 hours"
	case distanceKm <= 10:
		return "city_extended", "4-6 hours"
	case distanceKm <= 20:
		return "nearby_suburbs", "6-8 hours"
	case distanceKm <= 35:
		return "extended_area", "1-2 days"
	default:
		return "far_area", "2-3 days"
	}
}

func cacheKey(origin, dest geo.Point, amount pricing.Money, mode Mode) string {
	return fmt.Sprintf("delivery:%.4f,%.4f:%.4f,%.4f:%d:%s", origin.Lat, origin.Lon, dest.Lat, dest.Lon, amount, mode)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func countQuote(outcome, cache string) {
	if obs.DeliveryQuoteTotal != nil {
		obs.DeliveryQuoteTotal.WithLabelValues(outcome, cache).Inc()
	}
}
