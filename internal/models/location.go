package models

import "time"

// Coordinates holds a point on the map. Nil fields mean the upstream did not
// report geometry (postal-code lookups, for instance).
type Coordinates struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// Valid reports whether both latitude and longitude are present.
func (c Coordinates) Valid() bool {
	return c.Lat != nil && c.Lng != nil
}

// NewCoordinates returns Coordinates with both fields set.
func NewCoordinates(lat, lng float64) Coordinates {
	return Coordinates{Lat: &lat, Lng: &lng}
}

type GeographicRecord struct {
	PostalCode   string      `json:"postal_code,omitempty"`
	Street       string      `json:"street,omitempty"`
	Neighborhood string      `json:"neighborhood,omitempty"`
	City         string      `json:"city"`
	State        string      `json:"state"`
	Address      string      `json:"address,omitempty"`
	Coordinates  Coordinates `json:"coordinates"`
	Source       string      `json:"source"`
}

type EconomicRecord struct {
	InterestRate     float64   `json:"interest_rate"`
	Inflation        float64   `json:"inflation"`
	Currency         string    `json:"currency"`
	InterestRateDate string    `json:"interest_rate_date,omitempty"`
	InflationDate    string    `json:"inflation_date,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
	Source           string    `json:"source"`
	// Estimated lists indicators that were replaced by fallback constants.
	Estimated []string `json:"estimated,omitempty"`
}

type AirQualityRecord struct {
	AQI            int       `json:"aqi"`
	AQIDescription string    `json:"aqi_description"`
	Source         string    `json:"source"`
	LastUpdated    time.Time `json:"last_updated"`
}

type ClimateRecord struct {
	Temperature   float64          `json:"temperature"`
	FeelsLike     float64          `json:"feels_like"`
	Humidity      int              `json:"humidity"`
	Pressure      int              `json:"pressure"`
	Description   string           `json:"description"`
	WindSpeed     float64          `json:"wind_speed"`
	WindDirection int              `json:"wind_direction"`
	Visibility    float64          `json:"visibility"`
	Cloudiness    int              `json:"cloudiness"`
	Sunrise       *time.Time       `json:"sunrise,omitempty"`
	Sunset        *time.Time       `json:"sunset,omitempty"`
	City          string           `json:"city,omitempty"`
	Country       string           `json:"country,omitempty"`
	Source        string           `json:"source"`
	LastUpdated   time.Time        `json:"last_updated"`
	AirQuality    AirQualityRecord `json:"air_quality"`
}

// LocationAnalysis is the composite returned for a location query.
// Without coordinates Climate is the estimated placeholder under the
// climate.missing_coordinates "placeholder" policy (default) and nil under "omit".
type LocationAnalysis struct {
	Location   string            `json:"location"`
	Geographic *GeographicRecord `json:"geographic"`
	Economic   *EconomicRecord   `json:"economic"`
	Climate    *ClimateRecord    `json:"climate"`
	AnalyzedAt time.Time         `json:"analyzed_at"`
}
