package main

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetric maps an expvar variable to a Prometheus metric.
type promMetric struct {
	key       string
	name      string
	help      string
	valueType prometheus.ValueType
}

// Variables published by the chat server.
var promMetrics = []promMetric{
	{"Version", "version", "The version of this chat server instance.", prometheus.GaugeValue},
	{"Uptime", "uptime_seconds", "Time since the server start.", prometheus.CounterValue},
	{"NumGoroutines", "goroutines", "Number of running goroutines.", prometheus.GaugeValue},
	{"LiveSessions", "sessions_live_count", "Number of currently active sessions.", prometheus.GaugeValue},
	{"TotalSessions", "sessions_total", "Total number of sessions since instance start.", prometheus.CounterValue},
	{"OnlineUsers", "users_online_count", "Number of users with a registered connection.", prometheus.GaugeValue},
	{"IncomingMessagesWebsockTotal", "incoming_messages_total", "Websocket frames received from clients.", prometheus.CounterValue},
	{"OutgoingMessagesWebsockTotal", "outgoing_messages_total", "Websocket frames sent to clients.", prometheus.CounterValue},
	{"MessagesRoutedTotal", "messages_routed_total", "Messages stored and delivered.", prometheus.CounterValue},
	{"RouterErrorsTotal", "router_errors_total", "Client messages rejected by the router.", prometheus.CounterValue},
	{"DeliveryOverflowsTotal", "delivery_overflows_total", "Connections dropped because of outbound queue overflow.", prometheus.CounterValue},
	{"RateLimitedTotal", "rate_limited_total", "Client messages rejected by the rate limiter.", prometheus.CounterValue},
	{"memstats.Alloc", "malloced_bytes", "Number of bytes of memory allocated and in use.", prometheus.GaugeValue},
}

// PromExporter collects metrics in Prometheus format from a chat server.
type PromExporter struct {
	scraper *Scraper

	up    *prometheus.Desc
	descs []*prometheus.Desc
}

// NewPromExporter returns an initialized Prometheus exporter.
func NewPromExporter(namespace string, scraper *Scraper) *PromExporter {
	e := &PromExporter{
		scraper: scraper,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"If the chat server instance is reachable.",
			nil,
			nil,
		),
	}
	for _, m := range promMetrics {
		e.descs = append(e.descs, prometheus.NewDesc(prometheus.BuildFQName(namespace, "", m.name), m.help, nil, nil))
	}
	return e
}

// Describe describes all the metrics exported. It implements prometheus.Collector.
func (e *PromExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	for _, d := range e.descs {
		ch <- d
	}
}

// Collect fetches statistics from the server and delivers them as Prometheus metrics.
// It implements prometheus.Collector.
func (e *PromExporter) Collect(ch chan<- prometheus.Metric) {
	up := float64(1)
	if stats, err := e.scraper.Scrape(); err != nil {
		log.Println("Failed to fetch or parse response", err)
		up = 0
	} else if err := e.parseStats(ch, stats); err != nil {
		up = 0
	}

	ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, up)
}

func (e *PromExporter) parseStats(ch chan<- prometheus.Metric, stats map[string]any) error {
	for i, m := range promMetrics {
		v, err := parseMetric(stats, m.key)
		if err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(e.descs[i], m.valueType, v)
	}
	return nil
}
