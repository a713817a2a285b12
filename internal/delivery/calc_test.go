package delivery

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-mithaas/internal/geo"
)

var indore = geo.Point{Lat: 22.738152, Lon: 75.831858}

func testConfig() Config {
	return Config{
		BaseCharge:     5_000,
		BaseDistanceKm: 5,
		PerKmRate:      500,
		FreeThreshold:  150_000,
		FreeRadiusKm:   10,
		MaxDistanceKm:  50,
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := geo.Point{Lat: 22.7196, Lon: 75.8577}
	b := geo.Point{Lat: 23.2599, Lon: 77.4126}
	if d1, d2 := Haversine(a, b), Haversine(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", d1, d2)
	}
	if d := Haversine(a, a); d != 0 {
		t.Fatalf("expected zero self-distance, got %v", d)
	}
}

func TestQuotePickupIgnoresCoordinates(t *testing.T) {
	c := &Calculator{Origin: indore, Config: testConfig()}
	q, err := c.Quote(context.Background(), geo.Point{Lat: -80, Lon: 170}, 100, ModePickup, false)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Charge != 0 || !q.IsFree || q.DistanceKm != 0 || q.Zone != "pickup" {
		t.Fatalf("unexpected pickup quote %+v", q)
	}
}

func TestQuoteFreeDeliveryOverride(t *testing.T) {
	c := &Calculator{Origin: indore, Config: testConfig()}
	dest := geo.Point{Lat: 22.7196, Lon: 75.8577} // a few km away
	q, err := c.Quote(context.Background(), dest, 150_000, ModeDelivery, false)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.IsFree || q.Charge != 0 {
		t.Fatalf("expected free delivery, got %+v", q)
	}
}

func TestQuoteChargedBelowThreshold(t *testing.T) {
	c := &Calculator{Origin: indore, Config: testConfig()}
	dest := geo.Point{Lat: 22.7196, Lon: 75.8577}
	q, err := c.Quote(context.Background(), dest, 50_000, ModeDelivery, false)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.IsFree {
		t.Fatal("expected paid delivery below threshold")
	}
	if q.Charge != c.Config.BaseCharge {
		// destination is within the base distance, so only the base charge applies
		t.Fatalf("expected base charge %d, got %d", c.Config.BaseCharge, q.Charge)
	}
}

func TestQuotePerKmBeyondBaseDistance(t *testing.T) {
	c := &Calculator{Origin: indore, Config: testConfig()}
	dest := geo.Point{Lat: 22.9676, Lon: 76.0534} // ~34km northeast
	q, err := c.Quote(context.Background(), dest, 50_000, ModeDelivery, false)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want := c.Config.BaseCharge + int64(math.Round((q.DistanceKm-c.Config.BaseDistanceKm)*float64(c.Config.PerKmRate)))
	if q.Charge != want {
		t.Fatalf("expected charge %d for %.2fkm, got %d", want, q.DistanceKm, q.Charge)
	}
	if q.Zone != "extended_area" || q.ETA != "1-2 days" {
		t.Fatalf("unexpected zone banding %q/%q", q.Zone, q.ETA)
	}
}

func TestQuoteOutOfServiceArea(t *testing.T) {
	c := &Calculator{Origin: indore, Config: testConfig()}
	bhopal := geo.Point{Lat: 23.2599, Lon: 77.4126} // ~170km away
	_, err := c.Quote(context.Background(), bhopal, 1_000_000, ModeDelivery, false)
	if !errors.Is(err, ErrOutOfServiceArea) {
		t.Fatalf("expected ErrOutOfServiceArea, got %v", err)
	}
}

func TestQuoteDistanceRounding(t *testing.T) {
	c := &Calculator{Origin: indore, Config: testConfig()}
	dest := geo.Point{Lat: 22.76, Lon: 75.89}
	q, err := c.Quote(context.Background(), dest, 0, ModeDelivery, false)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.DistanceKm != round2(q.DistanceKm) {
		t.Fatalf("distance not rounded to 2 decimals: %v", q.DistanceKm)
	}
}

func TestQuoteCacheReadThrough(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	c := &Calculator{Origin: indore, Config: testConfig(), Cache: NewCache(client, time.Minute)}
	dest := geo.Point{Lat: 22.7196, Lon: 75.8577}
	ctx := context.Background()

	first, err := c.Quote(ctx, dest, 50_000, ModeDelivery, false)
	if err != nil {
		t.Fatalf("first quote: %v", err)
	}
	second, err := c.Quote(ctx, dest, 50_000, ModeDelivery, false)
	if err != nil {
		t.Fatalf("second quote: %v", err)
	}
	if first != second {
		t.Fatalf("cached quote differs: %+v vs %+v", first, second)
	}

	// Bypass must recompute and still produce the identical quote.
	bypass, err := c.Quote(ctx, dest, 50_000, ModeDelivery, true)
	if err != nil {
		t.Fatalf("bypass quote: %v", err)
	}
	if bypass != first {
		t.Fatalf("bypass quote differs: %+v", bypass)
	}
}

func TestEstimateRange(t *testing.T) {
	c := &Calculator{Origin: indore, Config: testConfig()}
	min, max := c.EstimateRange(3)
	if min != max || min != c.Config.BaseCharge {
		t.Fatalf("expected flat estimate within base distance, got %d..%d", min, max)
	}
	min, max = c.EstimateRange(15)
	if min >= max {
		t.Fatalf("expected band beyond base distance, got %d..%d", min, max)
	}
}
