package reporter

import (
	"errors"
	"net/http"

	"liquidation-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports session events as Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	errors          *prometheus.CounterVec
	openPositions   prometheus.Gauge
	liquidatable    prometheus.Counter
	liquidations    prometheus.Counter
	lastLiquidation prometheus.Gauge
	running         prometheus.Gauge
}

// NewMetrics registers the bot metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liquidation_bot",
			Name:      "events_total",
			Help:      "Events published by the bot, by type",
		}, []string{"type"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liquidation_bot",
			Name:      "errors_total",
			Help:      "Errors reported by the pipeline stages, by kind",
		}, []string{"kind"}),
		openPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "liquidation_bot",
			Subsystem: "fetcher",
			Name:      "open_positions",
			Help:      "Traders with an open position after the latest scan",
		}),
		liquidatable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "liquidation_bot",
			Subsystem: "checker",
			Name:      "liquidatable_reports_total",
			Help:      "Traders reported liquidatable by a check pass",
		}),
		liquidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "liquidation_bot",
			Subsystem: "liquidator",
			Name:      "liquidations_total",
			Help:      "Successful liquidations",
		}),
		lastLiquidation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "liquidation_bot",
			Subsystem: "liquidator",
			Name:      "last_liquidation_timestamp_seconds",
			Help:      "Unix time of the latest successful liquidation",
		}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "liquidation_bot",
			Name:      "session_running",
			Help:      "1 while a session is publishing events",
		}),
	}
}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Report(e models.Event) {
	m.events.WithLabelValues(string(e.Type)).Inc()
	if e.Type != models.EventBotStopped {
		m.running.Set(1)
	}

	switch e.Type {
	case models.EventTradersFetched:
		m.openPositions.Set(float64(len(e.Traders)))
	case models.EventTradersChecked:
		m.liquidatable.Add(float64(len(e.Traders)))
	case models.EventTraderLiquidated:
		m.liquidations.Inc()
		m.lastLiquidation.Set(float64(e.Time.Unix()))
	case models.EventError:
		m.errors.WithLabelValues(errorKind(e.Err)).Inc()
	case models.EventBotStopped:
		m.running.Set(0)
		if e.Err != nil {
			m.errors.WithLabelValues("fatal").Inc()
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Close() error { return nil }

func errorKind(err error) string {
	var (
		fetchErr *models.FetchError
		checkErr *models.CheckError
		liqErr   *models.LiquidationError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &checkErr):
		return "check"
	case errors.As(err, &liqErr):
		return "liquidation"
	default:
		return "other"
	}
}
