// Package provider fetches current weather observations from external APIs.
// All providers normalize their responses into the same Observation shape, so
// the gateway never knows which upstream served a request.
package provider

import (
	"context"
	"time"

	"wxpass/internal/platform/config"
	dErrors "wxpass/pkg/domain-errors"
)

// Observation is the normalized current-weather reading.
type Observation struct {
	City          string  `json:"city"`
	Country       string  `json:"country"`
	Temperature   float64 `json:"temperature"`
	FeelsLike     float64 `json:"feels_like"`
	Humidity      int     `json:"humidity"`
	Pressure      int     `json:"pressure"`
	Description   string  `json:"description"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection int     `json:"wind_direction"`
	Visibility    int     `json:"visibility"`
}

// Provider serves current weather for a city. Unknown cities return
// CodeNotFound; upstream failures return CodeProviderUnavailable.
type Provider interface {
	Name() string
	Current(ctx context.Context, city string) (*Observation, error)
}

const requestTimeout = 10 * time.Second

// FromConfig selects the provider named in configuration, falling back to
// Open-Meteo for unknown names since it needs no API key.
func FromConfig(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "openweather":
		if cfg.OpenWeatherAPIKey == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "openweather provider requires an API key")
		}
		return NewOpenWeather(cfg.OpenWeatherAPIKey), nil
	case "weatherapi":
		if cfg.WeatherAPIKey == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "weatherapi provider requires an API key")
		}
		return NewWeatherAPI(cfg.WeatherAPIKey), nil
	default:
		return NewOpenMeteo(), nil
	}
}
