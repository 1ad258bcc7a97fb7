package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/lox/aqiforecast/internal/httputil"
	"github.com/lox/aqiforecast/internal/metrics"
	"github.com/lox/aqiforecast/internal/models"
)

const (
	DefaultBaseURL     = "https://air-quality-api.open-meteo.com/v1/air-quality"
	SourceOpenMeteo    = "open-meteo"
	EndpointAirQuality = "v1/air-quality"
)

// FetchResult describes one HTTP exchange for the ingest audit log.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	Skipped      int
	Body         []byte
}

type OpenMeteo struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	lat     float64
	lon     float64
	now     func() time.Time
	maxWait time.Duration
}

func NewOpenMeteo(lat, lon float64) *OpenMeteo {
	return &OpenMeteo{
		baseURL: DefaultBaseURL,
		client:  httputil.NewClient(),
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		lat:     lat,
		lon:     lon,
		now:     time.Now,
		maxWait: 2 * time.Minute,
	}
}

// SetBaseURL points the client at a different endpoint.
func (o *OpenMeteo) SetBaseURL(u string) {
	o.baseURL = u
}

// SetRetryWindow bounds the total time spent retrying a failing request.
func (o *OpenMeteo) SetRetryWindow(d time.Duration) {
	o.maxWait = d
}

type airQualityResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Hourly    struct {
		Time            []string   `json:"time"`
		PM25            []*float64 `json:"pm2_5"`
		PM10            []*float64 `json:"pm10"`
		NitrogenDioxide []*float64 `json:"nitrogen_dioxide"`
		USAQI           []*float64 `json:"us_aqi"`
	} `json:"hourly"`
}

// FetchHourly retrieves the hourly pollutant series covering pastDays up to
// now. Hours later than now are model forecasts and are not returned.
func (o *OpenMeteo) FetchHourly(ctx context.Context, pastDays, forecastDays int) ([]models.Observation, *FetchResult, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(o.lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(o.lon, 'f', 4, 64))
	q.Set("hourly", "pm2_5,pm10,nitrogen_dioxide,us_aqi")
	q.Set("timezone", "auto")
	q.Set("past_days", strconv.Itoa(pastDays))
	q.Set("forecast_days", strconv.Itoa(forecastDays))
	reqURL := o.baseURL + "?" + q.Encode()

	result := &FetchResult{}
	operation := func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		start := time.Now()
		resp, err := o.client.Do(req)
		metrics.OpenMeteoAPILatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.OpenMeteoAPICallsTotal.WithLabelValues("error").Inc()
			return backoff.Permanent(fmt.Errorf("fetch air quality: %w", err))
		}
		defer resp.Body.Close()

		result.HTTPStatus = resp.StatusCode
		metrics.OpenMeteoAPICallsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch air quality: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			result.ResponseSize = len(b)
			return backoff.Permanent(fmt.Errorf("fetch air quality: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		result.Body = body
		result.ResponseSize = len(body)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = o.maxWait
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, result, err
	}

	obs, skipped, err := parseAirQuality(result.Body, o.now())
	if err != nil {
		return nil, result, err
	}
	result.RecordCount = len(obs)
	result.Skipped = skipped
	return obs, result, nil
}

func parseAirQuality(body []byte, now time.Time) ([]models.Observation, int, error) {
	var data airQualityResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, 0, fmt.Errorf("unmarshal: %w", err)
	}
	if len(data.Hourly.Time) == 0 {
		return nil, 0, fmt.Errorf("empty hourly block")
	}

	loc := time.UTC
	if data.Timezone != "" {
		l, err := time.LoadLocation(data.Timezone)
		if err != nil {
			return nil, 0, fmt.Errorf("load timezone %q: %w", data.Timezone, err)
		}
		loc = l
	}

	var results []models.Observation
	skipped := 0
	for i, ts := range data.Hourly.Time {
		observedAt, err := time.ParseInLocation("2006-01-02T15:04", ts, loc)
		if err != nil {
			return nil, 0, fmt.Errorf("parse time %q: %w", ts, err)
		}
		if observedAt.After(now) {
			skipped++
			continue
		}

		results = append(results, models.Observation{
			ObservedAt:  observedAt,
			PM25:        at(data.Hourly.PM25, i),
			PM10:        at(data.Hourly.PM10, i),
			NO2:         at(data.Hourly.NitrogenDioxide, i),
			AQIExternal: at(data.Hourly.USAQI, i),
			Source:      SourceOpenMeteo,
		})
	}
	return results, skipped, nil
}

func at(values []*float64, i int) sql.NullFloat64 {
	if i >= len(values) || values[i] == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *values[i], Valid: true}
}
