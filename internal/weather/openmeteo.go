// Package weather resolves place names and fetches forecasts from the Open-Meteo APIs.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	forecastDays = 3
)

var ErrPlaceNotFound = errors.New("no place matched")

// Config points the client at the geocoding and forecast endpoints.
type Config struct {
	GeocodeURL  string
	ForecastURL string
	// Units is "fahrenheit" or "celsius".
	Units   string
	Timeout time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = DefaultGeocodeURL
	}
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = DefaultForecastURL
	}
	if cfg.Units != "celsius" {
		cfg.Units = "fahrenheit"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "weather"),
	}
}

// Place is a geocoding match.
type Place struct {
	Name      string
	Region    string
	Country   string
	Latitude  float64
	Longitude float64
}

func (p Place) String() string {
	parts := []string{p.Name}
	for _, s := range []string{p.Region, p.Country} {
		if s != "" && s != p.Name {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Admin1    string  `json:"admin1"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

// Locate returns the best match for a place name.
func (c *Client) Locate(ctx context.Context, name string) (Place, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Place{}, errors.New("place name is required")
	}

	query := url.Values{}
	query.Set("name", name)
	query.Set("count", "1")
	query.Set("language", "en")
	query.Set("format", "json")

	var resp geocodeResponse
	if err := c.get(ctx, c.cfg.GeocodeURL, query, &resp); err != nil {
		return Place{}, fmt.Errorf("geocode %q: %w", name, err)
	}
	if len(resp.Results) == 0 {
		return Place{}, fmt.Errorf("%w %q", ErrPlaceNotFound, name)
	}
	match := resp.Results[0]
	c.logger.Debug("place resolved", "query", name, "match", match.Name)
	return Place{
		Name:      match.Name,
		Region:    match.Admin1,
		Country:   match.Country,
		Latitude:  match.Latitude,
		Longitude: match.Longitude,
	}, nil
}

// Forecast is the current conditions plus the next few days.
type Forecast struct {
	TemperatureUnit string
	WindUnit        string
	Current         Conditions
	Days            []Day
}

type Conditions struct {
	Temperature float64
	WindSpeed   float64
	Description string
}

type Day struct {
	Date                string
	High                float64
	Low                 float64
	PrecipitationChance int
	Description         string
}

// Summary renders the forecast as short plain text for the model.
func (f Forecast) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Now: %s, %.0f%s, wind %.0f %s.",
		f.Current.Description, f.Current.Temperature, f.TemperatureUnit, f.Current.WindSpeed, f.WindUnit)
	for _, d := range f.Days {
		fmt.Fprintf(&b, "\n%s: %s, high %.0f%s, low %.0f%s, %d%% chance of precipitation.",
			d.Date, d.Description, d.High, f.TemperatureUnit, d.Low, f.TemperatureUnit, d.PrecipitationChance)
	}
	return b.String()
}

type forecastResponse struct {
	CurrentUnits struct {
		Temperature string `json:"temperature_2m"`
		WindSpeed   string `json:"wind_speed_10m"`
	} `json:"current_units"`
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WeatherCode int     `json:"weather_code"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Daily struct {
		Time          []string  `json:"time"`
		WeatherCode   []int     `json:"weather_code"`
		High          []float64 `json:"temperature_2m_max"`
		Low           []float64 `json:"temperature_2m_min"`
		Precipitation []int     `json:"precipitation_probability_max"`
	} `json:"daily"`
}

// Forecast fetches conditions for a coordinate.
func (c *Client) Forecast(ctx context.Context, latitude, longitude float64) (Forecast, error) {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return Forecast{}, fmt.Errorf("coordinates out of range: %v, %v", latitude, longitude)
	}

	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(latitude, 'f', 4, 64))
	query.Set("longitude", strconv.FormatFloat(longitude, 'f', 4, 64))
	query.Set("current", "temperature_2m,weather_code,wind_speed_10m")
	query.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max")
	query.Set("temperature_unit", c.cfg.Units)
	if c.cfg.Units == "fahrenheit" {
		query.Set("wind_speed_unit", "mph")
	}
	query.Set("timezone", "auto")
	query.Set("forecast_days", strconv.Itoa(forecastDays))

	var resp forecastResponse
	if err := c.get(ctx, c.cfg.ForecastURL, query, &resp); err != nil {
		return Forecast{}, fmt.Errorf("forecast: %w", err)
	}

	out := Forecast{
		TemperatureUnit: resp.CurrentUnits.Temperature,
		WindUnit:        resp.CurrentUnits.WindSpeed,
		Current: Conditions{
			Temperature: resp.Current.Temperature,
			WindSpeed:   resp.Current.WindSpeed,
			Description: describe(resp.Current.WeatherCode),
		},
	}
	daily := resp.Daily
	for i, date := range daily.Time {
		if i >= len(daily.High) || i >= len(daily.Low) {
			break
		}
		day := Day{Date: date, High: daily.High[i], Low: daily.Low[i]}
		if i < len(daily.WeatherCode) {
			day.Description = describe(daily.WeatherCode[i])
		}
		if i < len(daily.Precipitation) {
			day.PrecipitationChance = daily.Precipitation[i]
		}
		out.Days = append(out.Days, day)
	}
	return out, nil
}

type apiError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Reason)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// describe maps a WMO weather interpretation code to words.
func describe(code int) string {
	switch code {
	case 0:
		return "clear sky"
	case 1:
		return "mainly clear"
	case 2:
		return "partly cloudy"
	case 3:
		return "overcast"
	case 45, 48:
		return "fog"
	case 51, 53, 55:
		return "drizzle"
	case 56, 57:
		return "freezing drizzle"
	case 61, 63, 65:
		return "rain"
	case 66, 67:
		return "freezing rain"
	case 71, 73, 75, 77:
		return "snow"
	case 80, 81, 82:
		return "rain showers"
	case 85, 86:
		return "snow showers"
	case 95:
		return "thunderstorms"
	case 96, 99:
		return "thunderstorms with hail"
	default:
		return "unknown conditions"
	}
}
