// Package geocode implements the Nominatim-backed address resolver.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	coregeocode "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/geocode"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
	infralogger "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
)

// Config configures the Nominatim client.
type Config struct {
	// URL is the service base, e.g. https://nominatim.openstreetmap.org.
	URL string `json:"url"`
	// UserAgent identifies this deployment; public Nominatim requires one.
	UserAgent string `json:"user_agent"`
	TimeoutMS int    `json:"timeout_ms"`
	// Retries is the number of attempts on transient failures.
	Retries int `json:"retries"`
	// BaseDelayMS is the first backoff wait; it doubles per attempt.
	BaseDelayMS int `json:"base_delay_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = "https://nominatim.openstreetmap.org"
	}
	if c.UserAgent == "" {
		c.UserAgent = "akita-delivery-navigator"
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 10000
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BaseDelayMS <= 0 {
		c.BaseDelayMS = 1000
	}
}

// Nominatim resolves addresses against a Nominatim search endpoint, retrying
// transient failures with exponential backoff. An empty result set is
// terminal: the address is unknown and retrying will not change that.
type Nominatim struct {
	cfg    Config
	client *http.Client
	log    logger.Logger
	// wait is replaced in tests to avoid real backoff waits.
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a Nominatim client.
func New(cfg Config) *Nominatim {
	cfg.SetDefaults()
	return &Nominatim{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		log:    infralogger.New("geocoder"),
		wait:   waitBackoff,
	}
}

// waitBackoff blocks for d unless the context ends first.
func waitBackoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve implements geocode.Geocoder.
func (n *Nominatim) Resolve(ctx context.Context, address string) (model.Coordinates, error) {
	var lastErr error
	delay := time.Duration(n.cfg.BaseDelayMS) * time.Millisecond
	for attempt := 1; attempt <= n.cfg.Retries; attempt++ {
		if attempt > 1 {
			n.log.Warnf("geocode %q attempt %d after error: %v", address, attempt, lastErr)
			if err := n.wait(ctx, delay); err != nil {
				return model.Coordinates{}, err
			}
			delay *= 2
		}
		pos, err := n.query(ctx, address)
		if err == nil {
			return pos, nil
		}
		if err == coregeocode.ErrNotFound {
			return model.Coordinates{}, err
		}
		lastErr = err
	}
	return model.Coordinates{}, fmt.Errorf("geocode %q: %w", address, lastErr)
}

func (n *Nominatim) query(ctx context.Context, address string) (model.Coordinates, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.URL+"/search?"+q.Encode(), nil)
	if err != nil {
		return model.Coordinates{}, err
	}
	req.Header.Set("User-Agent", n.cfg.UserAgent)
	resp, err := n.client.Do(req)
	if err != nil {
		return model.Coordinates{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return model.Coordinates{}, fmt.Errorf("geocoder status %d", resp.StatusCode)
	}
	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return model.Coordinates{}, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(results) == 0 {
		return model.Coordinates{}, coregeocode.ErrNotFound
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}
	return model.Coordinates{Lat: lat, Lon: lon}, nil
}
