// Command exporter scrapes expvar stats of a chat server and exposes them to Prometheus
// or pushes them to InfluxDB.
package main

import (
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

// MonitoringService is the type of the metrics consumer.
type MonitoringService int

const (
	Prometheus MonitoringService = 1
	InfluxDB   MonitoringService = 2
)

type promHTTPLogger struct{}

func (l promHTTPLogger) Println(v ...any) {
	log.Println(v...)
}

func defaultMetricList() string {
	keys := make([]string, 0, len(promMetrics))
	for _, m := range promMetrics {
		keys = append(keys, m.key)
	}
	return strings.Join(keys, ",")
}

// newPromHandler serves metrics collected by the exporter at /metrics.
func newPromHandler(exporter *PromExporter, timeout time.Duration) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(exporter)
	return promhttp.InstrumentMetricHandler(
		registry,
		promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				ErrorLog: &promHTTPLogger{},
				Timeout:  timeout,
			},
		),
	)
}

func main() {
	log.Printf("Chat metrics exporter.")

	var (
		serveFor   = flag.String("serve_for", "prometheus", "Monitoring service to gather metrics for. Available: influxdb, prometheus.")
		chatAddr   = flag.String("chat_addr", "http://localhost:6060/debug/vars", "Address of the chat server expvar endpoint to scrape.")
		listenAt   = flag.String("listen_at", ":6222", "Host name and port to listen for incoming requests on.")
		metricList = flag.String("metric_list", defaultMetricList(), "Comma-separated list of metrics to push to InfluxDB.")
		instance   = flag.String("instance", "chat", "Instance name to tag InfluxDB metrics with.")

		// Prometheus-specific arguments.
		promNamespace   = flag.String("prom_namespace", "chat", "Prometheus namespace for metrics '<namespace>_...'")
		promMetricsPath = flag.String("prom_metrics_path", "/metrics", "Path under which to expose metrics for Prometheus scrapes.")
		promTimeout     = flag.Int("prom_timeout", 15, "Server connection timeout in seconds in response to Prometheus scrapes.")

		// InfluxDB-specific arguments.
		influxVersion      = flag.String("influx_db_version", "2.0", "Version of InfluxDB: 1.7 or 2.0.")
		influxPushAddr     = flag.String("influx_push_addr", "http://localhost:9999/api/v2/write", "Address of InfluxDB target server where the data gets sent.")
		influxOrganization = flag.String("influx_organization", "test", "InfluxDB organization to push metrics as.")
		influxBucket       = flag.String("influx_bucket", "test", "InfluxDB storage bucket to store data in.")
		influxAuthToken    = flag.String("influx_auth_token", "", "InfluxDB authentication token.")
		influxPushInterval = flag.Int("influx_push_interval", 30, "InfluxDB push interval in seconds.")
	)
	flag.Parse()

	var service MonitoringService
	switch *serveFor {
	case "prometheus":
		service = Prometheus
		if *promMetricsPath == "/" {
			log.Fatal("Serving metrics from / is not supported")
		}
	case "influxdb":
		service = InfluxDB
		if *influxOrganization == "" {
			log.Fatal("Must specify --influx_organization")
		}
		if *influxAuthToken == "" {
			log.Fatal("Must specify --influx_auth_token")
		}
		if *influxBucket == "" && *influxVersion != "1.7" {
			log.Fatal("Must specify --influx_bucket")
		}
	default:
		log.Fatal("Invalid monitoring service:" + *serveFor + "; must be either \"prometheus\" or \"influxdb\"")
	}

	timeout := time.Duration(*promTimeout) * time.Second
	scraper := NewScraper(*chatAddr, strings.Split(*metricList, ","), timeout)

	// Index page at web root.
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var servingPath string
		switch service {
		case Prometheus:
			servingPath = "<p>Prometheus exporter path: <a href='" + *promMetricsPath + "'>Metrics</a></p>"
		case InfluxDB:
			servingPath = "<p>InfluxDB push path: <a href='/push'>Push</a></p>"
		}

		w.Write([]byte(`<html><head><title>Chat Exporter</title></head><body>
<h1>Chat Exporter</h1>
<p>Server type ` + *serveFor + `</p>` + servingPath +
			`<h2>Build</h2>
<pre>` + version.Info() + ` ` + version.BuildContext() + `</pre>
</body></html>`))
	})

	switch service {
	case Prometheus:
		http.Handle(*promMetricsPath, newPromHandler(NewPromExporter(*promNamespace, scraper), timeout))
	case InfluxDB:
		influxDBExporter, err := NewInfluxDBExporter(*influxVersion, *influxPushAddr, *influxOrganization,
			*influxBucket, *influxAuthToken, *instance, scraper)
		if err != nil {
			log.Fatal(err)
		}
		if *influxPushInterval > 0 {
			go func() {
				ticker := time.NewTicker(time.Duration(*influxPushInterval) * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if _, err := influxDBExporter.Push(); err != nil {
						log.Println("InfluxDB push failed:", err)
					}
				}
			}()
		} else {
			log.Println("InfluxDB push interval is zero. Will not push data automatically.")
		}
		// Forces a data push.
		http.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
			var msg string
			if status, err := influxDBExporter.Push(); err == nil {
				msg = "ok - " + status
			} else {
				msg = "fail - " + err.Error()
			}

			w.Write([]byte(`<html><head><title>Chat Push</title></head><body>
<h1>Chat Push</h1>
<pre>` + msg + `</pre>
</body></html>`))
		})
	}

	log.Println("Reading chat server expvar from", *chatAddr)
	log.Printf("Serving metrics at %s. Server type %s", *listenAt, *serveFor)
	log.Fatalln(http.ListenAndServe(*listenAt, nil))
}
