package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Scraper collects metrics from a chat server's expvar endpoint.
type Scraper struct {
	address string
	metrics []string
	client  *http.Client
}

var errKeyNotFound = errors.New("key not found")

// NewScraper creates a scraper of the given expvar address.
func NewScraper(address string, metrics []string, timeout time.Duration) *Scraper {
	return &Scraper{
		address: address,
		metrics: metrics,
		client:  &http.Client{Timeout: timeout},
	}
}

// CollectRaw gathers all configured metrics from the server and returns them as a map.
func (s *Scraper) CollectRaw() (map[string]float64, error) {
	stats, err := s.Scrape()
	if err != nil {
		log.Println("Failed to fetch or parse response", err)
		return nil, err
	}
	metrics, err := s.parseStatsRaw(stats)
	if err != nil {
		return nil, err
	}
	metrics["up"] = 1
	return metrics, nil
}

// Scrape fetches the data from the server using HTTP GET then decodes the response.
func (s *Scraper) Scrape() (map[string]any, error) {
	resp, err := s.client.Get(s.address)
	if err != nil {
		log.Println("Failed to connect to server", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response %s", resp.Status)
	}

	var stats map[string]any
	err = json.NewDecoder(resp.Body).Decode(&stats)
	return stats, err
}

func (s *Scraper) parseStatsRaw(stats map[string]any) (map[string]float64, error) {
	metrics := make(map[string]float64, len(s.metrics))
	for _, key := range s.metrics {
		val, err := parseMetric(stats, key)
		if err != nil {
			return nil, err
		}
		metrics[key] = val
	}
	return metrics, nil
}

// parseMetric returns the value at the dot-separated path. Missing values are reported as zero.
func parseMetric(stats map[string]any, key string) (float64, error) {
	v, err := parseNumeric(stats, key)
	if err == errKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func parseNumeric(stats map[string]any, path string) (float64, error) {
	parts := strings.Split(path, ".")
	var value any = stats
	for _, part := range parts {
		subset, ok := value.(map[string]any)
		if !ok {
			log.Println("Invalid key path:", path)
			return 0, errKeyNotFound
		}
		var found bool
		if value, found = subset[part]; !found {
			log.Println("Invalid key path:", path, "(", part, ")")
			return 0, errKeyNotFound
		}
	}

	switch val := value.(type) {
	case float64:
		return val, nil
	case string:
		// Version is published as a string, e.g. "0.1".
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, nil
		}
	}

	log.Println("Value at path is not a number:", path, value)
	return 0, errKeyNotFound
}
