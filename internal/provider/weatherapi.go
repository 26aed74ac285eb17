package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	dErrors "wxpass/pkg/domain-errors"
)

const weatherAPIBaseURL = "https://api.weatherapi.com/v1"

// WeatherAPI serves weather from WeatherAPI.com. Requires an API key. Wind
// speeds arrive in km/h and visibility in km; both are normalized to SI.
type WeatherAPI struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// WeatherAPIOption configures the WeatherAPI provider.
type WeatherAPIOption func(*WeatherAPI)

// WithWeatherAPIBaseURL overrides the upstream endpoint (for testing).
func WithWeatherAPIBaseURL(baseURL string) WeatherAPIOption {
	return func(p *WeatherAPI) {
		p.baseURL = baseURL
	}
}

// WithWeatherAPIHTTPClient sets a custom HTTP client (for testing).
func WithWeatherAPIHTTPClient(client *http.Client) WeatherAPIOption {
	return func(p *WeatherAPI) {
		p.httpClient = client
	}
}

func NewWeatherAPI(apiKey string, opts ...WeatherAPIOption) *WeatherAPI {
	p := &WeatherAPI{
		apiKey:     apiKey,
		baseURL:    weatherAPIBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *WeatherAPI) Name() string { return "weatherapi" }

type weatherAPIResponse struct {
	Location struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		TempC      float64 `json:"temp_c"`
		FeelsLikeC float64 `json:"feelslike_c"`
		Humidity   int     `json:"humidity"`
		PressureMb float64 `json:"pressure_mb"`
		Condition  struct {
			Text string `json:"text"`
		} `json:"condition"`
		WindKph    float64 `json:"wind_kph"`
		WindDegree int     `json:"wind_degree"`
		VisKm      float64 `json:"vis_km"`
	} `json:"current"`
}

func (p *WeatherAPI) Current(ctx context.Context, city string) (*Observation, error) {
	query := url.Values{
		"key": {p.apiKey},
		"q":   {city},
		"aqi": {"no"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/current.json?"+query.Encode(), nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build weatherapi request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "weatherapi request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		// WeatherAPI reports unknown locations as 400 with error code 1006.
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("city %q not found", city))
	default:
		return nil, dErrors.New(dErrors.CodeProviderUnavailable,
			fmt.Sprintf("weatherapi returned status %d", resp.StatusCode))
	}

	var data weatherAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "decode weatherapi response")
	}

	return &Observation{
		City:          data.Location.Name,
		Country:       data.Location.Country,
		Temperature:   data.Current.TempC,
		FeelsLike:     data.Current.FeelsLikeC,
		Humidity:      data.Current.Humidity,
		Pressure:      int(data.Current.PressureMb),
		Description:   strings.ToLower(data.Current.Condition.Text),
		WindSpeed:     data.Current.WindKph / 3.6,
		WindDirection: data.Current.WindDegree,
		Visibility:    int(data.Current.VisKm * 1000),
	}, nil
}
