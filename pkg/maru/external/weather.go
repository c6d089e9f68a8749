// Package external implements capability adapters the tool layer invokes:
// weather, web search, web fetch and a local calendar. Each adapter owns its
// HTTP client and formats results as text for the LLM.
package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds each outbound adapter request.
const DefaultHTTPTimeout = 15 * time.Second

// WeatherClient fetches current conditions and a short forecast from the
// Open-Meteo API. No API key is required.
type WeatherClient struct {
	client      *http.Client
	geocodeURL  string
	forecastURL string
}

// NewWeatherClient creates a weather adapter.
func NewWeatherClient() *WeatherClient {
	return &WeatherClient{
		client:      &http.Client{Timeout: DefaultHTTPTimeout},
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
	}
}

// weatherCodes maps WMO weather codes to short descriptions.
var weatherCodes = map[int]string{
	0:  "clear sky",
	1:  "mainly clear",
	2:  "partly cloudy",
	3:  "overcast",
	45: "fog",
	48: "depositing rime fog",
	51: "light drizzle",
	53: "drizzle",
	55: "dense drizzle",
	61: "light rain",
	63: "rain",
	65: "heavy rain",
	71: "light snow",
	73: "snow",
	75: "heavy snow",
	80: "rain showers",
	81: "moderate rain showers",
	82: "violent rain showers",
	85: "snow showers",
	95: "thunderstorm",
	96: "thunderstorm with hail",
	99: "thunderstorm with heavy hail",
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Apparent    float64 `json:"apparent_temperature"`
		WeatherCode int     `json:"weather_code"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		Humidity    int     `json:"relative_humidity_2m"`
	} `json:"current"`
	Daily struct {
		TempMax      []float64 `json:"temperature_2m_max"`
		TempMin      []float64 `json:"temperature_2m_min"`
		PrecipChance []int     `json:"precipitation_probability_max"`
	} `json:"daily"`
}

// Current returns a formatted weather report for the named location.
func (w *WeatherClient) Current(ctx context.Context, location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		location = "Seoul"
	}

	name, country, lat, lon, err := w.geocode(ctx, location)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.4f", lat))
	query.Set("longitude", fmt.Sprintf("%.4f", lon))
	query.Set("current", "temperature_2m,apparent_temperature,weather_code,wind_speed_10m,relative_humidity_2m")
	query.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max")
	query.Set("forecast_days", "1")
	query.Set("timezone", "auto")

	var forecast forecastResponse
	if err := w.getJSON(ctx, w.forecastURL+"?"+query.Encode(), &forecast); err != nil {
		return "", fmt.Errorf("fetching forecast: %w", err)
	}

	condition := weatherCodes[forecast.Current.WeatherCode]
	if condition == "" {
		condition = fmt.Sprintf("weather code %d", forecast.Current.WeatherCode)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Weather in %s, %s: %s\n", name, country, condition)
	fmt.Fprintf(&sb, "Temperature: %.1f°C (feels like %.1f°C)\n",
		forecast.Current.Temperature, forecast.Current.Apparent)
	fmt.Fprintf(&sb, "Humidity: %d%%, wind %.1f km/h\n",
		forecast.Current.Humidity, forecast.Current.WindSpeed)
	if len(forecast.Daily.TempMax) > 0 && len(forecast.Daily.TempMin) > 0 {
		fmt.Fprintf(&sb, "Today: %.1f°C to %.1f°C",
			forecast.Daily.TempMin[0], forecast.Daily.TempMax[0])
		if len(forecast.Daily.PrecipChance) > 0 {
			fmt.Fprintf(&sb, ", %d%% chance of precipitation", forecast.Daily.PrecipChance[0])
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// geocode resolves a location name to coordinates.
func (w *WeatherClient) geocode(ctx context.Context, location string) (name, country string, lat, lon float64, err error) {
	query := url.Values{}
	query.Set("name", location)
	query.Set("count", "1")

	var geo geocodeResponse
	if err := w.getJSON(ctx, w.geocodeURL+"?"+query.Encode(), &geo); err != nil {
		return "", "", 0, 0, fmt.Errorf("geocoding %q: %w", location, err)
	}
	if len(geo.Results) == 0 {
		return "", "", 0, 0, fmt.Errorf("location %q not found", location)
	}
	r := geo.Results[0]
	return r.Name, r.Country, r.Latitude, r.Longitude, nil
}

// getJSON fetches a URL and decodes the JSON body into out.
func (w *WeatherClient) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
