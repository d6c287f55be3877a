package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\njwt_secret: secret-from-secrets-file\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
	if cfg.JWTSecret != "secret-from-secrets-file" {
		t.Errorf("JWTSecret = %q, want secret from secrets file", cfg.JWTSecret)
	}
}

func TestLoad_EnvOverridesSecretsFile(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WEATHER_API_KEY", "key-from-env")
	t.Setenv("CACHE_BACKEND", "SQLite")
	t.Setenv("LOG_LEVEL", "debug")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-env" {
		t.Errorf("WeatherAPIKey = %q, want env value", cfg.WeatherAPIKey)
	}
	if cfg.CacheBackend != "sqlite" {
		t.Errorf("CacheBackend = %q, want sqlite", cfg.CacheBackend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_ReadsDotEnvFile(t *testing.T) {
	isolateEnv(t)
	unsetEnv(t, "WEATHER_API_KEY")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHER_API_KEY=key-from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	chdir(t, dir)
	t.Cleanup(func() { os.Unsetenv("WEATHER_API_KEY") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-dotenv" {
		t.Errorf("WeatherAPIKey = %q, want value from .env", cfg.WeatherAPIKey)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	dir := t.TempDir()
	writeEnvFile(t, dir, "server:\n  port: \"9090\"\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
	if cfg.GeocodingEmptyResult != "default_location" {
		t.Errorf("GeocodingEmptyResult = %q, want default_location", cfg.GeocodingEmptyResult)
	}
	if cfg.EconomicFailurePolicy != "fallback" {
		t.Errorf("EconomicFailurePolicy = %q, want fallback", cfg.EconomicFailurePolicy)
	}
	if cfg.ClimateMissingCoordinates != "placeholder" {
		t.Errorf("ClimateMissingCoordinates = %q, want placeholder", cfg.ClimateMissingCoordinates)
	}
	if !cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = false, want true by default")
	}
	if cfg.DatabasePath != "data/locations.db" {
		t.Errorf("DatabasePath = %q, want data/locations.db", cfg.DatabasePath)
	}
	if cfg.LocationMinLength != 2 || cfg.LocationMaxLength != 200 {
		t.Errorf("location bounds = %d..%d, want 2..200", cfg.LocationMinLength, cfg.LocationMaxLength)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("CORSAllowedOrigins = %v, want [*]", cfg.CORSAllowedOrigins)
	}
	if cfg.RequestTimeout <= cfg.UpstreamTimeout {
		t.Errorf("RequestTimeout %v should exceed UpstreamTimeout %v", cfg.RequestTimeout, cfg.UpstreamTimeout)
	}
}

func TestLoad_CoalescingCanBeDisabled(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+"coalescing:\n  enabled: false\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = true, want false")
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	dir := t.TempDir()
	writeEnvFile(t, dir, strings.Replace(minimalEnvYAML, `ttl: "5m"`, `ttl: "invalid"`, 1))
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want default 1h", cfg.CacheTTL)
	}
}

func TestLoad_ValidationFailsWhenUpstreamTimeoutZero(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	dir := t.TempDir()
	writeEnvFile(t, dir, strings.Replace(minimalEnvYAML, `timeout: "2s"`, `timeout: "0s"`, 1))
	chdir(t, dir)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for zero upstream timeout")
	}
	if !strings.Contains(err.Error(), "upstreams.timeout") {
		t.Errorf("Load() error = %v, want upstreams.timeout", err)
	}
}

func TestLoad_RejectsUnknownPolicies(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		field string
	}{
		{"cache backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"empty result", "geocoding:\n  empty_result: guess\n", "geocoding.empty_result"},
		{"failure policy", "economic:\n  failure_policy: ignore\n", "economic.failure_policy"},
		{"missing coordinates", "climate:\n  missing_coordinates: zero\n", "climate.missing_coordinates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			t.Setenv("WEATHER_API_KEY", "test-key")
			dir := t.TempDir()
			writeEnvFile(t, dir, "upstreams:\n  timeout: \"2s\"\n"+tt.extra)
			chdir(t, dir)

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error for invalid %s", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.field)
			}
		})
	}
}

func TestLoad_RejectsInvertedLocationBounds(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+"validation:\n  location_min_length: 50\n  location_max_length: 10\n")
	chdir(t, dir)

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error when min length exceeds max length")
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	chdir(t, findProjectRoot(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ViaCEPURL == "" || cfg.BCBURL == "" || cfg.OpenWeatherURL == "" || cfg.NominatimURL == "" {
		t.Errorf("dev.yaml should set every upstream URL, got %+v", cfg)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Second, time.Second},
		{"bogus", time.Second, time.Second},
		{"0s", time.Second, time.Second},
		{"-1s", time.Second, time.Second},
		{"250ms", time.Second, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.def); got != tt.want {
			t.Errorf("parseDuration(%q, %v) = %v, want %v", tt.in, tt.def, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Second); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
upstreams:
  viacep_url: "https://viacep.example.com"
  nominatim_url: "https://nominatim.example.com"
  bcb_url: "https://bcb.example.com"
  openweather_url: "https://openweather.example.com"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

// isolateEnv clears variables Load reads so the host environment cannot leak into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "WEATHER_API_KEY", "JWT_SECRET", "CACHE_BACKEND", "MEMCACHED_ADDRS", "LOG_LEVEL", "PORT", "DATABASE_PATH"} {
		t.Setenv(k, "")
	}
}

// unsetEnv removes key for the test so .env loading can set it.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	saved, had := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, saved)
		}
	})
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}
