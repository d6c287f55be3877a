//go:build integration
// +build integration

package client

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"
)

func isValidAPIKeyFormat(key string) error {
	if len(key) != 32 {
		return fmt.Errorf("API key length is %d, expected 32", len(key))
	}

	hexPattern := regexp.MustCompile(`^[0-9a-fA-F]+$`)
	if !hexPattern.MatchString(key) {
		return fmt.Errorf("API key contains non-hexadecimal characters")
	}

	return nil
}

func liveTransport() *Transport {
	return NewTransport(TransportConfig{
		Timeout:        10 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: time.Second,
		UserAgent:      "location-analysis-service/integration-test",
	})
}

func TestGeocoder_Live(t *testing.T) {
	if os.Getenv("LIVE_UPSTREAMS") == "" {
		t.Skip("LIVE_UPSTREAMS not set, skipping live upstream test")
	}

	g := NewGeocoder(liveTransport(), GeocodingConfig{UserAgent: "location-analysis-service/integration-test"})
	rec, err := g.Resolve(context.Background(), "93230-600")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.City != "Sapucaia do Sul" {
		t.Errorf("City = %q, want Sapucaia do Sul", rec.City)
	}
}

func TestBCBClient_Live(t *testing.T) {
	if os.Getenv("LIVE_UPSTREAMS") == "" {
		t.Skip("LIVE_UPSTREAMS not set, skipping live upstream test")
	}

	rec, err := NewBCBClient(liveTransport(), EconomicConfig{Policy: FailurePolicyStrict}).Indicators(context.Background())
	if err != nil {
		t.Fatalf("Indicators() error = %v", err)
	}
	if rec.InterestRate <= 0 {
		t.Errorf("InterestRate = %v, want > 0", rec.InterestRate)
	}
}

func TestOpenWeatherClient_ValidateAPIKey_Integration(t *testing.T) {
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	if err := isValidAPIKeyFormat(apiKey); err != nil {
		t.Fatalf("API key format validation failed: %v", err)
	}

	c, err := NewOpenWeatherClient(liveTransport(), apiKey, "")
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	if err := c.ValidateAPIKey(context.Background()); err != nil {
		t.Errorf("ValidateAPIKey() error = %v, want nil (API key may not be activated yet)", err)
	}
}
