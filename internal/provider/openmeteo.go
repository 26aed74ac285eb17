package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	dErrors "wxpass/pkg/domain-errors"
)

const (
	openMeteoGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	openMeteoForecastURL = "https://api.open-meteo.com/v1/forecast"
)

// OpenMeteo serves weather from the Open-Meteo API. No API key required, so
// it is the default provider. City names resolve through a separate geocoding
// call before the forecast lookup.
type OpenMeteo struct {
	geocodeURL  string
	forecastURL string
	httpClient  *http.Client
}

// OpenMeteoOption configures the OpenMeteo provider.
type OpenMeteoOption func(*OpenMeteo)

// WithOpenMeteoURLs overrides the upstream endpoints (for testing).
func WithOpenMeteoURLs(geocodeURL, forecastURL string) OpenMeteoOption {
	return func(p *OpenMeteo) {
		p.geocodeURL = geocodeURL
		p.forecastURL = forecastURL
	}
}

// WithOpenMeteoHTTPClient sets a custom HTTP client (for testing).
func WithOpenMeteoHTTPClient(client *http.Client) OpenMeteoOption {
	return func(p *OpenMeteo) {
		p.httpClient = client
	}
}

func NewOpenMeteo(opts ...OpenMeteoOption) *OpenMeteo {
	p := &OpenMeteo{
		geocodeURL:  openMeteoGeocodeURL,
		forecastURL: openMeteoForecastURL,
		httpClient:  &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenMeteo) Name() string { return "open-meteo" }

type geocodeResponse struct {
	Results []struct {
		Name        string  `json:"name"`
		CountryCode string  `json:"country_code"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature     float64 `json:"temperature_2m"`
		Humidity        int     `json:"relative_humidity_2m"`
		WeatherCode     int     `json:"weather_code"`
		WindSpeed       float64 `json:"wind_speed_10m"`
		WindDirection   int     `json:"wind_direction_10m"`
		SurfacePressure float64 `json:"surface_pressure"`
	} `json:"current"`
}

func (p *OpenMeteo) Current(ctx context.Context, city string) (*Observation, error) {
	geocodeQuery := url.Values{
		"name":     {city},
		"count":    {"1"},
		"language": {"en"},
		"format":   {"json"},
	}
	var geo geocodeResponse
	if err := p.getJSON(ctx, p.geocodeURL+"?"+geocodeQuery.Encode(), &geo); err != nil {
		return nil, err
	}
	if len(geo.Results) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("city %q not found", city))
	}
	location := geo.Results[0]

	forecastQuery := url.Values{
		"latitude":  {fmt.Sprintf("%g", location.Latitude)},
		"longitude": {fmt.Sprintf("%g", location.Longitude)},
		"current":   {"temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m,wind_direction_10m,surface_pressure"},
		"timezone":  {"auto"},
	}
	var forecast forecastResponse
	if err := p.getJSON(ctx, p.forecastURL+"?"+forecastQuery.Encode(), &forecast); err != nil {
		return nil, err
	}

	current := forecast.Current
	pressure := int(current.SurfacePressure)
	if pressure == 0 {
		pressure = 1013
	}
	return &Observation{
		City:          location.Name,
		Country:       location.CountryCode,
		Temperature:   current.Temperature,
		FeelsLike:     current.Temperature,
		Humidity:      current.Humidity,
		Pressure:      pressure,
		Description:   weatherCodeDescription(current.WeatherCode),
		WindSpeed:     current.WindSpeed,
		WindDirection: current.WindDirection,
		Visibility:    10000,
	}, nil
}

func (p *OpenMeteo) getJSON(ctx context.Context, rawURL string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build open-meteo request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "open-meteo request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dErrors.New(dErrors.CodeProviderUnavailable,
			fmt.Sprintf("open-meteo returned status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "decode open-meteo response")
	}
	return nil
}

// weatherCodeDescription maps WMO weather codes to human-readable text.
func weatherCodeDescription(code int) string {
	switch code {
	case 0:
		return "clear sky"
	case 1:
		return "mainly clear"
	case 2:
		return "partly cloudy"
	case 3:
		return "overcast"
	case 45:
		return "fog"
	case 48:
		return "depositing rime fog"
	case 51:
		return "light drizzle"
	case 53:
		return "moderate drizzle"
	case 55:
		return "dense drizzle"
	case 61:
		return "slight rain"
	case 63:
		return "moderate rain"
	case 65:
		return "heavy rain"
	case 71:
		return "slight snow"
	case 73:
		return "moderate snow"
	case 75:
		return "heavy snow"
	case 95:
		return "thunderstorm"
	default:
		return "unknown"
	}
}
