package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	dErrors "wxpass/pkg/domain-errors"
)

const openWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeather serves weather from the OpenWeather API. Requires an API key;
// responses already match the normalized shape closely.
type OpenWeather struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// OpenWeatherOption configures the OpenWeather provider.
type OpenWeatherOption func(*OpenWeather)

// WithOpenWeatherBaseURL overrides the upstream endpoint (for testing).
func WithOpenWeatherBaseURL(baseURL string) OpenWeatherOption {
	return func(p *OpenWeather) {
		p.baseURL = baseURL
	}
}

// WithOpenWeatherHTTPClient sets a custom HTTP client (for testing).
func WithOpenWeatherHTTPClient(client *http.Client) OpenWeatherOption {
	return func(p *OpenWeather) {
		p.httpClient = client
	}
}

func NewOpenWeather(apiKey string, opts ...OpenWeatherOption) *OpenWeather {
	p := &OpenWeather{
		apiKey:     apiKey,
		baseURL:    openWeatherBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenWeather) Name() string { return "openweather" }

type openWeatherResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
	} `json:"wind"`
	Visibility int `json:"visibility"`
}

func (p *OpenWeather) Current(ctx context.Context, city string) (*Observation, error) {
	query := url.Values{
		"q":     {city},
		"appid": {p.apiKey},
		"units": {"metric"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/weather?"+query.Encode(), nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build openweather request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "openweather request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("city %q not found", city))
	default:
		return nil, dErrors.New(dErrors.CodeProviderUnavailable,
			fmt.Sprintf("openweather returned status %d", resp.StatusCode))
	}

	var data openWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "decode openweather response")
	}

	description := ""
	if len(data.Weather) > 0 {
		description = data.Weather[0].Description
	}
	return &Observation{
		City:          data.Name,
		Country:       data.Sys.Country,
		Temperature:   data.Main.Temp,
		FeelsLike:     data.Main.FeelsLike,
		Humidity:      data.Main.Humidity,
		Pressure:      data.Main.Pressure,
		Description:   description,
		WindSpeed:     data.Wind.Speed,
		WindDirection: data.Wind.Deg,
		Visibility:    data.Visibility,
	}, nil
}
