// Package weather fetches current conditions and the 48-hour forecast
// from OpenWeatherMap and derives the garden alerts (frost, heavy rain)
// that drive daily briefings.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/beanbot/beanbot/internal/httpkit"
)

// Alert thresholds.
const (
	// FrostThresholdC marks the forecast low at which tender plants
	// need covering.
	FrostThresholdC = 2.0

	// RainProbThresholdPct is the rain probability treated as "will
	// rain, skip watering".
	RainProbThresholdPct = 60.0

	// RainMMThreshold is the total precipitation treated as a
	// significant rain event.
	RainMMThreshold = 10.0

	// forecastEntries covers 48 hours at the API's 3-hour step.
	forecastEntries = 16
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5"

// Service queries OpenWeatherMap for one configured location.
type Service struct {
	apiKey  string
	lat     string
	lon     string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a weather service for a fixed lat/lon.
func New(apiKey, lat, lon string, logger *slog.Logger) *Service {
	return &Service{
		apiKey:  apiKey,
		lat:     lat,
		lon:     lon,
		baseURL: defaultBaseURL,
		client:  httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		logger:  logger,
	}
}

// Configured reports whether the service has everything it needs.
func (s *Service) Configured() bool {
	return s.apiKey != "" && s.lat != "" && s.lon != ""
}

// Forecast is the distilled 48-hour outlook.
type Forecast struct {
	Summary     string
	FrostRisk   bool
	RainAlert   bool
	MinTempC    float64
	MaxTempC    float64
	TotalRainMM float64
	MaxRainProb float64 // percent
}

type currentResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
}

type forecastResponse struct {
	List []forecastEntry `json:"list"`
}

type forecastEntry struct {
	Main struct {
		TempMin float64 `json:"temp_min"`
		TempMax float64 `json:"temp_max"`
	} `json:"main"`
	Pop  float64 `json:"pop"` // probability of precipitation, 0 to 1
	Rain struct {
		ThreeHour float64 `json:"3h"`
	} `json:"rain"`
	Snow struct {
		ThreeHour float64 `json:"3h"`
	} `json:"snow"`
}

// Current returns a one-line description of the current weather.
func (s *Service) Current(ctx context.Context) (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("weather configuration missing")
	}
	var data currentResponse
	if err := s.get(ctx, "/weather", nil, &data); err != nil {
		return "", err
	}
	desc := "unknown"
	if len(data.Weather) > 0 && data.Weather[0].Description != "" {
		desc = data.Weather[0].Description
	}
	return fmt.Sprintf("Current Weather: %s, Temperature: %.1f°C", desc, data.Main.Temp), nil
}

// Forecast48h returns the 48-hour outlook with alert flags set.
func (s *Service) Forecast48h(ctx context.Context) (*Forecast, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("weather configuration missing")
	}
	var data forecastResponse
	if err := s.get(ctx, "/forecast", url.Values{"cnt": {fmt.Sprint(forecastEntries)}}, &data); err != nil {
		return nil, err
	}
	if len(data.List) == 0 {
		return nil, fmt.Errorf("no forecast data available")
	}
	return summarize(data.List), nil
}

// summarize folds the 3-hour entries into one outlook.
func summarize(entries []forecastEntry) *Forecast {
	f := &Forecast{MinTempC: 99, MaxTempC: -99}
	for _, e := range entries {
		if e.Main.TempMin < f.MinTempC {
			f.MinTempC = e.Main.TempMin
		}
		if e.Main.TempMax > f.MaxTempC {
			f.MaxTempC = e.Main.TempMax
		}
		if prob := e.Pop * 100; prob > f.MaxRainProb {
			f.MaxRainProb = prob
		}
		f.TotalRainMM += e.Rain.ThreeHour + e.Snow.ThreeHour
	}

	f.FrostRisk = f.MinTempC <= FrostThresholdC
	f.RainAlert = f.MaxRainProb >= RainProbThresholdPct || f.TotalRainMM >= RainMMThreshold

	summary := fmt.Sprintf("48-Hour Forecast: Low %.0f°C / High %.0f°C", f.MinTempC, f.MaxTempC)
	if f.MaxRainProb > 0 {
		summary += fmt.Sprintf(". Rain chance up to %.0f%%, total precip %.1fmm", f.MaxRainProb, f.TotalRainMM)
	}
	if f.FrostRisk {
		summary += fmt.Sprintf(". FROST RISK: temps dropping to %.0f°C", f.MinTempC)
	}
	if f.RainAlert {
		summary += ". Significant rain expected"
	}
	f.Summary = summary
	return f
}

func (s *Service) get(ctx context.Context, path string, extra url.Values, out any) error {
	params := url.Values{
		"lat":   {s.lat},
		"lon":   {s.lon},
		"appid": {s.apiKey},
		"units": {"metric"},
	}
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("weather: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("weather: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weather: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("weather: decode response: %w", err)
	}
	return nil
}
