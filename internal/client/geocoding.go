package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/location-analysis-service/internal/models"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
)

const (
	DefaultViaCEPURL    = "https://viacep.com.br"
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"

	providerViaCEP    = "viacep"
	providerNominatim = "nominatim"

	countryQualifier = "Brazil"
)

// EmptyResultPolicy decides what a search with no matches returns.
type EmptyResultPolicy string

const (
	EmptyResultDefaultLocation EmptyResultPolicy = "default_location"
	EmptyResultNotFound        EmptyResultPolicy = "not_found"
)

// defaultLocation is returned for empty searches under EmptyResultDefaultLocation.
var defaultLocation = struct {
	city, state string
	lat, lng    float64
}{"São Paulo", "SP", -23.5505, -46.6333}

// GeoResolver turns a location string into a GeographicRecord.
type GeoResolver interface {
	Resolve(ctx context.Context, location string) (models.GeographicRecord, error)
}

type GeocodingConfig struct {
	ViaCEPURL    string
	NominatimURL string
	UserAgent    string
	EmptyResult  EmptyResultPolicy
	// EnrichPostalCoordinates runs a best-effort search after a postal-code hit to fill coordinates.
	EnrichPostalCoordinates bool
}

// Geocoder resolves 8-digit postal codes through ViaCEP and everything else through Nominatim.
type Geocoder struct {
	sender Sender
	cfg    GeocodingConfig
}

func NewGeocoder(sender Sender, cfg GeocodingConfig) *Geocoder {
	if cfg.ViaCEPURL == "" {
		cfg.ViaCEPURL = DefaultViaCEPURL
	}
	if cfg.NominatimURL == "" {
		cfg.NominatimURL = DefaultNominatimURL
	}
	if cfg.EmptyResult == "" {
		cfg.EmptyResult = EmptyResultDefaultLocation
	}
	cfg.ViaCEPURL = strings.TrimRight(cfg.ViaCEPURL, "/")
	cfg.NominatimURL = strings.TrimRight(cfg.NominatimURL, "/")
	return &Geocoder{sender: sender, cfg: cfg}
}

// PostalCode returns the digits of location when they form a postal code (exactly 8 digits).
func PostalCode(location string) (string, bool) {
	var b strings.Builder
	for _, r := range location {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	return digits, len(digits) == 8
}

func (g *Geocoder) Resolve(ctx context.Context, location string) (models.GeographicRecord, error) {
	if cep, ok := PostalCode(location); ok {
		rec, err := g.lookupPostalCode(ctx, cep)
		if err != nil {
			return models.GeographicRecord{}, err
		}
		if g.cfg.EnrichPostalCoordinates {
			g.enrich(ctx, &rec)
		}
		return rec, nil
	}
	return g.search(ctx, location)
}

type viaCEPResponse struct {
	CEP        string `json:"cep"`
	Logradouro string `json:"logradouro"`
	Bairro     string `json:"bairro"`
	Localidade string `json:"localidade"`
	UF         string `json:"uf"`
	// ViaCEP answers 200 with {"erro": true} (or "true") for unknown codes.
	Erro any `json:"erro"`
}

func (g *Geocoder) lookupPostalCode(ctx context.Context, cep string) (models.GeographicRecord, error) {
	resp, err := g.sender.Send(ctx, Request{
		Provider: providerViaCEP,
		URL:      fmt.Sprintf("%s/ws/%s/json/", g.cfg.ViaCEPURL, cep),
	})
	if err != nil {
		return models.GeographicRecord{}, err
	}
	if !isSuccess(resp.StatusCode) {
		return models.GeographicRecord{}, fmt.Errorf("viacep: %w", statusError(resp.StatusCode))
	}

	var body viaCEPResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return models.GeographicRecord{}, fmt.Errorf("viacep: %w: %v", ErrMalformedResponse, err)
	}
	if body.Erro != nil {
		return models.GeographicRecord{}, fmt.Errorf("viacep %s: %w", cep, ErrPostalCodeNotFound)
	}

	return models.GeographicRecord{
		PostalCode:   body.CEP,
		Street:       body.Logradouro,
		Neighborhood: body.Bairro,
		City:         body.Localidade,
		State:        body.UF,
		Source:       "ViaCEP",
	}, nil
}

type nominatimResult struct {
	Lat     string `json:"lat"`
	Lon     string `json:"lon"`
	Address struct {
		Road         string `json:"road"`
		Suburb       string `json:"suburb"`
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		State        string `json:"state"`
		Postcode     string `json:"postcode"`
	} `json:"address"`
}

func (r nominatimResult) city() string {
	for _, c := range []string{r.Address.City, r.Address.Town, r.Address.Village, r.Address.Municipality} {
		if c != "" {
			return c
		}
	}
	return ""
}

func (g *Geocoder) search(ctx context.Context, address string) (models.GeographicRecord, error) {
	results, err := g.query(ctx, address)
	if err != nil {
		return models.GeographicRecord{}, err
	}

	if len(results) == 0 {
		if g.cfg.EmptyResult == EmptyResultNotFound {
			return models.GeographicRecord{}, fmt.Errorf("nominatim %q: %w", address, ErrLocationNotFound)
		}
		observability.LoggerFromContext(ctx).Info("geocoding returned no results, using default location",
			zap.String("address", address))
		return models.GeographicRecord{
			Address:     address,
			City:        defaultLocation.city,
			State:       defaultLocation.state,
			Coordinates: models.NewCoordinates(defaultLocation.lat, defaultLocation.lng),
			Source:      "Default",
		}, nil
	}

	first := results[0]
	coords, err := parseCoordinates(first.Lat, first.Lon)
	if err != nil {
		return models.GeographicRecord{}, err
	}
	return models.GeographicRecord{
		PostalCode:   first.Address.Postcode,
		Street:       first.Address.Road,
		Neighborhood: first.Address.Suburb,
		City:         first.city(),
		State:        first.Address.State,
		Address:      address,
		Coordinates:  coords,
		Source:       "Nominatim",
	}, nil
}

func (g *Geocoder) query(ctx context.Context, q string) ([]nominatimResult, error) {
	headers := map[string]string{}
	if g.cfg.UserAgent != "" {
		headers["User-Agent"] = g.cfg.UserAgent
	}
	resp, err := g.sender.Send(ctx, Request{
		Provider: providerNominatim,
		URL:      g.cfg.NominatimURL + "/search",
		Query: url.Values{
			"q":              {q + ", " + countryQualifier},
			"format":         {"json"},
			"limit":          {"1"},
			"addressdetails": {"1"},
		},
		Headers: headers,
	})
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("nominatim: %w", statusError(resp.StatusCode))
	}

	var results []nominatimResult
	if err := json.Unmarshal(resp.Body, &results); err != nil {
		return nil, fmt.Errorf("nominatim: %w: %v", ErrMalformedResponse, err)
	}
	return results, nil
}

// enrich fills coordinates for a postal-code record. Failures leave them nil.
func (g *Geocoder) enrich(ctx context.Context, rec *models.GeographicRecord) {
	parts := make([]string, 0, 3)
	for _, p := range []string{rec.Street, rec.City, rec.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return
	}

	results, err := g.query(ctx, strings.Join(parts, ", "))
	if err != nil || len(results) == 0 {
		observability.LoggerFromContext(ctx).Debug("postal code enrichment skipped",
			zap.String("postal_code", rec.PostalCode), zap.Error(err))
		return
	}
	if coords, err := parseCoordinates(results[0].Lat, results[0].Lon); err == nil {
		rec.Coordinates = coords
	}
}

func parseCoordinates(lat, lon string) (models.Coordinates, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("nominatim lat %q: %w", lat, ErrMalformedResponse)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("nominatim lon %q: %w", lon, ErrMalformedResponse)
	}
	return models.NewCoordinates(la, lo), nil
}
