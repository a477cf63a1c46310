package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// InfluxDBExporter collects metrics from a chat server and pushes them to InfluxDB.
type InfluxDBExporter struct {
	targetAddress string
	tokenHeader   string
	instance      string
	scraper       *Scraper
	client        *http.Client
}

// NewInfluxDBExporter returns an initialized InfluxDB exporter.
func NewInfluxDBExporter(influxDBVersion, pushBaseAddress, organization,
	bucket, token, instance string, scraper *Scraper) (*InfluxDBExporter, error) {

	targetAddress, err := formPushTargetAddress(influxDBVersion, pushBaseAddress, organization, bucket)
	if err != nil {
		return nil, err
	}
	return &InfluxDBExporter{
		targetAddress: targetAddress,
		tokenHeader:   formAuthorizationHeaderValue(influxDBVersion, token),
		instance:      instance,
		scraper:       scraper,
		client:        &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Push scrapes metrics from the chat server and pushes them to InfluxDB.
func (e *InfluxDBExporter) Push() (string, error) {
	metrics, err := e.scraper.CollectRaw()
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := new(bytes.Buffer)
	ts := time.Now().UnixNano()
	for _, k := range keys {
		fmt.Fprintf(b, "%s,instance=%s value=%f %d\n", k, e.instance, metrics[k], ts)
	}

	req, err := http.NewRequest(http.MethodPost, e.targetAddress, b)
	if err != nil {
		return "", err
	}
	req.Header.Add("Authorization", e.tokenHeader)
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body string
		if rb, err := io.ReadAll(resp.Body); err != nil {
			body = err.Error()
		} else {
			body = strings.TrimSpace(string(rb))
		}
		return resp.Status, fmt.Errorf("HTTP %s: %s", resp.Status, body)
	}
	return resp.Status, nil
}

func formPushTargetAddress(influxDBVersion, baseAddr, organization, bucket string) (string, error) {
	target, err := url.ParseRequestURI(baseAddr)
	if err != nil {
		return "", fmt.Errorf("invalid push address: %w", err)
	}
	// Url format
	// - in 2.0: /api/v2/write?org=organization&bucket=bucket
	// - in 1.7: /write?db=organization
	q := target.Query()
	if influxDBVersion == "1.7" {
		q.Add("db", organization)
	} else {
		q.Add("org", organization)
		q.Add("bucket", bucket)
	}
	target.RawQuery = q.Encode()
	return target.String(), nil
}

func formAuthorizationHeaderValue(influxDBVersion, token string) string {
	// Authorization header has value
	// - in 2.0: Token <token>
	// - in 1.7: Bearer <token>
	if influxDBVersion == "1.7" {
		return "Bearer " + token
	}
	return "Token " + token
}
