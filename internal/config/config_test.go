package config

import "testing"

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "postgres://localhost/mithaas",
		"REDIS_URL":    "redis://localhost:6379",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DeliveryMaxDistanceKm != 50 {
		t.Fatalf("expected max distance 50, got %v", cfg.DeliveryMaxDistanceKm)
	}
	if cfg.DeliveryFreeThreshold != 150000 {
		t.Fatalf("expected free threshold 150000, got %d", cfg.DeliveryFreeThreshold)
	}
	if cfg.CartStockPolicy != "drop" {
		t.Fatalf("expected default stock policy drop, got %q", cfg.CartStockPolicy)
	}
	if cfg.HTTPAddr() != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr())
	}
}

func TestLoadRejectsUnknownStockPolicy(t *testing.T) {
	env := baseEnv()
	env["CART_STOCK_POLICY"] = "reject"
	if _, err := LoadForTests(env); err == nil {
		t.Fatal("expected error for unknown stock policy")
	}
}

func TestLoadClampPolicy(t *testing.T) {
	env := baseEnv()
	env["CART_STOCK_POLICY"] = "clamp"
	cfg, err := LoadForTests(env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CartStockPolicy != "clamp" {
		t.Fatalf("expected clamp, got %q", cfg.CartStockPolicy)
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	if _, err := LoadForTests(env); err == nil {
		t.Fatal("expected error when DATABASE_URL missing")
	}
}
