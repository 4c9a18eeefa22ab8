// Package telemetry pulls read-only weather readings for the farm and feeds
// them into field telemetry.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
)

const DefaultBaseURL = "https://api.openweathermap.org/data/3.0/onecall"

var ErrMissingKey = errors.New("openweather: missing api key")

type owmDaily struct {
	Dt   int64 `json:"dt"`
	Temp struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"temp"`
	Rain float64 `json:"rain"`
}

type owmResp struct {
	Daily []owmDaily `json:"daily"`
}

// Daily is the weather summary for one calendar day.
type Daily struct {
	Day  time.Time
	TMin float64
	TMax float64
	Rain float64 // mm
	ET0  float64 // mm/day, Hargreaves
}

func (d Daily) TMean() float64 { return (d.TMin + d.TMax) / 2 }

type OWMConfig struct {
	APIKey   string
	BaseURL  string
	Lat, Lon float64
	Timeout  time.Duration
	CacheTTL time.Duration
}

type OWMClient struct {
	cfg     OWMConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   *cache.Cache
}

func NewOWMClient(cfg OWMConfig) *OWMClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	return &OWMClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "openweather",
			Timeout: time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
		cache: cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

func (c *OWMClient) requestURL() string {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", c.cfg.Lat))
	q.Set("lon", fmt.Sprintf("%f", c.cfg.Lon))
	q.Set("exclude", "current,minutely,hourly,alerts")
	q.Set("units", "metric")
	q.Set("appid", c.cfg.APIKey)
	return c.cfg.BaseURL + "?" + q.Encode()
}

// GetDaily returns the forecast day closest to day (UTC). Results are cached per day.
func (c *OWMClient) GetDaily(ctx context.Context, day time.Time) (Daily, error) {
	if c.cfg.APIKey == "" {
		return Daily{}, ErrMissingKey
	}
	key := day.UTC().Format(time.DateOnly)
	if v, ok := c.cache.Get(key); ok {
		return v.(Daily), nil
	}

	res, err := c.breaker.Execute(func() (any, error) { return c.fetch(ctx) })
	if err != nil {
		return Daily{}, err
	}
	d, err := closestDay(res.(owmResp), day)
	if err != nil {
		return Daily{}, err
	}
	c.cache.SetDefault(key, d)
	return d, nil
}

func (c *OWMClient) fetch(ctx context.Context) (owmResp, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return owmResp{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return owmResp{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return owmResp{}, fmt.Errorf("owm status %d: %s", resp.StatusCode, string(b))
	}
	var out owmResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return owmResp{}, fmt.Errorf("owm decode: %w", err)
	}
	return out, nil
}

func closestDay(out owmResp, day time.Time) (Daily, error) {
	if len(out.Daily) == 0 {
		return Daily{}, errors.New("owm: no daily data")
	}
	target := midnightUTC(day)
	chosen := out.Daily[0]
	minDelta := time.Duration(math.MaxInt64)
	for _, d := range out.Daily {
		delta := target.Sub(midnightUTC(time.Unix(d.Dt, 0)))
		if delta < 0 {
			delta = -delta
		}
		if delta < minDelta {
			minDelta = delta
			chosen = d
		}
	}
	return Daily{
		Day:  midnightUTC(time.Unix(chosen.Dt, 0)),
		TMin: chosen.Temp.Min,
		TMax: chosen.Temp.Max,
		Rain: chosen.Rain,
		ET0:  ET0Hargreaves(chosen.Temp.Min, chosen.Temp.Max, 0.408),
	}, nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ET0Hargreaves is the simplified Hargreaves reference evapotranspiration with
// a constant radiation term ra.
func ET0Hargreaves(tmin, tmax, ra float64) float64 {
	tmean := (tmin + tmax) / 2.0
	return 0.0023 * (tmean + 17.8) * math.Sqrt(math.Max(tmax-tmin, 0)) * ra
}
