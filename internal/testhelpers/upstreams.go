package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// FakeAPIKey is the only OpenWeather key the fake upstreams accept.
const FakeAPIKey = "0123456789abcdef0123456789abcdef"

// FakeUpstreams serves ViaCEP, Nominatim, BCB and OpenWeather from one httptest server.
// The Set* methods simulate outages and may be called while requests are in flight.
type FakeUpstreams struct {
	Server *httptest.Server

	mu           sync.Mutex
	calls        map[string]int
	emptySearch  bool // Nominatim returns []
	weatherDown  bool // OpenWeather answers 503
	economicDown bool // BCB answers 500
}

// NewFakeUpstreams starts the server and closes it when the test ends.
func NewFakeUpstreams(t *testing.T) *FakeUpstreams {
	t.Helper()
	f := &FakeUpstreams{calls: make(map[string]int)}

	r := mux.NewRouter()
	r.HandleFunc("/ws/{cep}/json/", f.viaCEP)
	r.HandleFunc("/search", f.nominatim)
	r.HandleFunc("/dados/serie/bcdata.sgs.{series:[0-9]+}/dados/ultimos/1", f.bcb)
	r.HandleFunc("/data/2.5/weather", f.weather)
	r.HandleFunc("/data/2.5/air_pollution", f.airPollution)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL for every provider.
func (f *FakeUpstreams) URL() string {
	return f.Server.URL
}

// Calls returns how many requests a provider received: viacep, nominatim, bcb, weather, air_pollution.
func (f *FakeUpstreams) Calls(provider string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[provider]
}

func (f *FakeUpstreams) record(provider string) {
	f.mu.Lock()
	f.calls[provider]++
	f.mu.Unlock()
}

func (f *FakeUpstreams) state() (emptySearch, weatherDown, economicDown bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emptySearch, f.weatherDown, f.economicDown
}

func (f *FakeUpstreams) SetEmptySearch(v bool) {
	f.mu.Lock()
	f.emptySearch = v
	f.mu.Unlock()
}

func (f *FakeUpstreams) SetWeatherDown(v bool) {
	f.mu.Lock()
	f.weatherDown = v
	f.mu.Unlock()
}

func (f *FakeUpstreams) SetEconomicDown(v bool) {
	f.mu.Lock()
	f.economicDown = v
	f.mu.Unlock()
}

func (f *FakeUpstreams) viaCEP(w http.ResponseWriter, r *http.Request) {
	f.record("viacep")
	switch mux.Vars(r)["cep"] {
	case "93230600":
		writeJSON(w, http.StatusOK, map[string]string{
			"cep":        "93230-600",
			"logradouro": "Rua Exemplo",
			"bairro":     "Centro",
			"localidade": "Sapucaia do Sul",
			"uf":         "RS",
		})
	case "01310100":
		writeJSON(w, http.StatusOK, map[string]string{
			"cep":        "01310-100",
			"logradouro": "Avenida Paulista",
			"bairro":     "Bela Vista",
			"localidade": "São Paulo",
			"uf":         "SP",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"erro": true})
	}
}

func (f *FakeUpstreams) nominatim(w http.ResponseWriter, r *http.Request) {
	f.record("nominatim")
	if empty, _, _ := f.state(); empty {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, []map[string]any{{
		"lat": "-23.5613",
		"lon": "-46.6565",
		"address": map[string]string{
			"road":     "Avenida Paulista",
			"suburb":   "Bela Vista",
			"city":     "São Paulo",
			"state":    "São Paulo",
			"postcode": "01310-100",
		},
	}})
}

func (f *FakeUpstreams) bcb(w http.ResponseWriter, r *http.Request) {
	f.record("bcb")
	if _, _, down := f.state(); down {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	valor := "10.50"
	if mux.Vars(r)["series"] == "433" {
		valor = "0.44"
	}
	writeJSON(w, http.StatusOK, []map[string]string{{"data": "01/10/2026", "valor": valor}})
}

func (f *FakeUpstreams) weather(w http.ResponseWriter, r *http.Request) {
	f.record("weather")
	if r.URL.Query().Get("appid") != FakeAPIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"cod": 401, "message": "Invalid API key"})
		return
	}
	if _, down, _ := f.state(); down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"main":       map[string]any{"temp": 26.4, "feels_like": 27.1, "humidity": 70, "pressure": 1013},
		"weather":    []map[string]string{{"main": "Clouds", "description": "nublado"}},
		"wind":       map[string]any{"speed": 3.6, "deg": 140},
		"clouds":     map[string]any{"all": 75},
		"visibility": 10000,
		"sys":        map[string]any{"country": "BR", "sunrise": 1760000000, "sunset": 1760045000},
		"name":       "São Paulo",
	})
}

func (f *FakeUpstreams) airPollution(w http.ResponseWriter, r *http.Request) {
	f.record("air_pollution")
	if r.URL.Query().Get("appid") != FakeAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"list": []map[string]any{{"main": map[string]int{"aqi": 2}}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
