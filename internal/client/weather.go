package client

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

	"go.uber.org/zap"

	"github.com/kjstillabower/location-analysis-service/internal/models"
	"github.com/kjstillabower/location-analysis-service/internal/observability"
)

const (
	DefaultOpenWeatherURL = "https://api.openweathermap.org"

	providerOpenWeather = "openweather"

	// EstimatedSource tags placeholder records.
	EstimatedSource = "Estimated"
)

// ClimateSource reads current conditions and air quality for a coordinate pair.
type ClimateSource interface {
	Current(ctx context.Context, coords models.Coordinates) (models.ClimateRecord, error)
	AirQuality(ctx context.Context, coords models.Coordinates) models.AirQualityRecord
	ValidateAPIKey(ctx context.Context) error
}

type OpenWeatherClient struct {
	sender  Sender
	apiKey  string
	baseURL string
	lang    string
	now     func() time.Time
}

func NewOpenWeatherClient(sender Sender, apiKey, baseURL string) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultOpenWeatherURL
	}
	return &OpenWeatherClient{
		sender:  sender,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		lang:    "pt_br",
		now:     time.Now,
	}, nil
}

type currentWeatherResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Visibility float64 `json:"visibility"`
	Sys        struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Name string `json:"name"`
}

func (c *OpenWeatherClient) Current(ctx context.Context, coords models.Coordinates) (models.ClimateRecord, error) {
	if !coords.Valid() {
		return models.ClimateRecord{}, ErrMissingCoordinates
	}

	resp, err := c.sender.Send(ctx, Request{
		Provider: providerOpenWeather,
		URL:      c.baseURL + "/data/2.5/weather",
		Query:    c.query(coords, true),
	})
	if err != nil {
		return models.ClimateRecord{}, err
	}
	if err := weatherStatusError(resp.StatusCode); err != nil {
		return models.ClimateRecord{}, err
	}

	var body currentWeatherResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return models.ClimateRecord{}, fmt.Errorf("openweather: %w: %v", ErrMalformedResponse, err)
	}
	return c.mapCurrent(body), nil
}

func (c *OpenWeatherClient) mapCurrent(body currentWeatherResponse) models.ClimateRecord {
	description := ""
	if len(body.Weather) > 0 {
		description = body.Weather[0].Main
		if body.Weather[0].Description != "" {
			description = body.Weather[0].Description
		}
	}

	return models.ClimateRecord{
		Temperature:   body.Main.Temp,
		FeelsLike:     body.Main.FeelsLike,
		Humidity:      body.Main.Humidity,
		Pressure:      body.Main.Pressure,
		Description:   description,
		WindSpeed:     body.Wind.Speed,
		WindDirection: body.Wind.Deg,
		Visibility:    body.Visibility / 1000,
		Cloudiness:    body.Clouds.All,
		Sunrise:       unixTime(body.Sys.Sunrise),
		Sunset:        unixTime(body.Sys.Sunset),
		City:          body.Name,
		Country:       body.Sys.Country,
		Source:        "OpenWeatherMap",
		LastUpdated:   c.now().UTC(),
	}
}

type airPollutionResponse struct {
	List []struct {
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
	} `json:"list"`
}

// AirQuality never fails; any problem yields PlaceholderAirQuality.
func (c *OpenWeatherClient) AirQuality(ctx context.Context, coords models.Coordinates) models.AirQualityRecord {
	aqi, err := c.airQuality(ctx, coords)
	if err != nil {
		observability.DegradationsTotal.WithLabelValues("air_quality").Inc()
		observability.LoggerFromContext(ctx).Warn("air quality unavailable, using estimate", zap.Error(err))
		return PlaceholderAirQuality(c.now())
	}
	return models.AirQualityRecord{
		AQI:            aqi,
		AQIDescription: AQIDescription(aqi),
		Source:         "OpenWeatherMap",
		LastUpdated:    c.now().UTC(),
	}
}

func (c *OpenWeatherClient) airQuality(ctx context.Context, coords models.Coordinates) (int, error) {
	if !coords.Valid() {
		return 0, ErrMissingCoordinates
	}
	resp, err := c.sender.Send(ctx, Request{
		Provider: providerOpenWeather,
		URL:      c.baseURL + "/data/2.5/air_pollution",
		Query:    c.query(coords, false),
	})
	if err != nil {
		return 0, err
	}
	if !isSuccess(resp.StatusCode) {
		return 0, fmt.Errorf("openweather air_pollution: %w", statusError(resp.StatusCode))
	}

	var body airPollutionResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, fmt.Errorf("openweather air_pollution: %w: %v", ErrMalformedResponse, err)
	}
	if len(body.List) == 0 {
		return 0, fmt.Errorf("openweather air_pollution: %w: empty list", ErrMalformedResponse)
	}
	return body.List[0].Main.AQI, nil
}

// ValidateAPIKey probes the weather endpoint with a fixed coordinate pair.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.sender.Send(ctx, Request{
		Provider: providerOpenWeather,
		URL:      c.baseURL + "/data/2.5/weather",
		Query:    c.query(models.NewCoordinates(-23.5505, -46.6333), true),
	})
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: %w", statusError(resp.StatusCode))
	}
	return nil
}

func (c *OpenWeatherClient) query(coords models.Coordinates, metric bool) url.Values {
	q := url.Values{
		"lat":   {strconv.FormatFloat(*coords.Lat, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(*coords.Lng, 'f', -1, 64)},
		"appid": {c.apiKey},
	}
	if metric {
		q.Set("units", "metric")
		q.Set("lang", c.lang)
	}
	return q
}

func weatherStatusError(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("openweather: %w", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("openweather: %w", ErrLocationNotFound)
	}
	if !isSuccess(statusCode) {
		return fmt.Errorf("openweather: %w", statusError(statusCode))
	}
	return nil
}

// AQIDescription maps the OpenWeather 1-5 index to a label.
func AQIDescription(aqi int) string {
	switch aqi {
	case 1:
		return "good"
	case 2:
		return "moderate"
	case 3:
		return "unhealthy for sensitive groups"
	case 4:
		return "unhealthy"
	case 5:
		return "very unhealthy"
	default:
		return "unknown"
	}
}

// PlaceholderAirQuality is the estimate used when the air-quality call fails.
func PlaceholderAirQuality(now time.Time) models.AirQualityRecord {
	return models.AirQualityRecord{
		AQI:            2,
		AQIDescription: "moderate",
		Source:         EstimatedSource,
		LastUpdated:    now.UTC(),
	}
}

// PlaceholderClimate is the record substituted when current conditions are unavailable.
func PlaceholderClimate(now time.Time) models.ClimateRecord {
	return models.ClimateRecord{
		Temperature: 22,
		Humidity:    60,
		Description: "data unavailable",
		Source:      EstimatedSource,
		LastUpdated: now.UTC(),
		AirQuality:  PlaceholderAirQuality(now),
	}
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// IsCredentialError reports whether err means the configured API key was refused.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrInvalidAPIKey)
}
