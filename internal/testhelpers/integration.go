package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/location-analysis-service/internal/cache"
	"github.com/kjstillabower/location-analysis-service/internal/client"
	"github.com/kjstillabower/location-analysis-service/internal/service"
)

// Stack is an analysis pipeline wired against FakeUpstreams.
type Stack struct {
	Upstreams *FakeUpstreams
	Transport *client.Transport
	Weather   *client.OpenWeatherClient
	Cache     cache.Cache
	Service   *service.AnalysisService
}

// StackOptions tweaks the pipeline. Zero value gives the production defaults.
type StackOptions struct {
	APIKey         string // defaults to FakeAPIKey
	EmptyResult    client.EmptyResultPolicy
	EconomicPolicy client.FailurePolicy
	Service        service.Options
}

// NewStack builds the full pipeline against fresh fake upstreams. Retries are fast so
// failure tests finish quickly.
func NewStack(t *testing.T, opts StackOptions) *Stack {
	t.Helper()
	up := NewFakeUpstreams(t)

	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = FakeAPIKey
	}

	transport := client.NewTransport(client.TransportConfig{
		Timeout:        2 * time.Second,
		RetryAttempts:  2,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
		UserAgent:      "location-analysis-service/test",
	})
	geo := client.NewGeocoder(transport, client.GeocodingConfig{
		ViaCEPURL:    up.URL(),
		NominatimURL: up.URL(),
		UserAgent:    "location-analysis-service/test",
		EmptyResult:  opts.EmptyResult,
	})
	econ := client.NewBCBClient(transport, client.EconomicConfig{BaseURL: up.URL(), Policy: opts.EconomicPolicy})
	weather, err := client.NewOpenWeatherClient(transport, apiKey, up.URL())
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	c := CacheFromEnv(t)
	return &Stack{
		Upstreams: up,
		Transport: transport,
		Weather:   weather,
		Cache:     c,
		Service:   service.NewAnalysisService(geo, econ, weather, c, opts.Service),
	}
}

// CacheFromEnv returns memcached when INTEGRATION_CACHE_BACKEND=memcached and the server
// answers a ping, otherwise an in-memory cache.
func CacheFromEnv(t *testing.T) cache.Cache {
	t.Helper()
	if os.Getenv("INTEGRATION_CACHE_BACKEND") != "memcached" {
		return cache.NewInMemoryCache()
	}
	addr := os.Getenv("MEMCACHED_ADDRS")
	if addr == "" {
		addr = "localhost:11211"
	}
	mc := cache.NewMemcachedCache(addr, 500*time.Millisecond, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mc.Ping(ctx); err != nil {
		t.Logf("Memcached not available (%v), using in-memory cache", err)
		_ = mc.Close()
		return cache.NewInMemoryCache()
	}
	t.Logf("Using Memcached cache at %s", addr)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}
