package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "spot_trend_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		Iterations:       promCounter{counter("iterations_total", "Total number of engine iterations.")},
		FetchFailures:    promCounter{counter("fetch_failures_total", "Total number of per-symbol candle fetch failures.")},
		OrdersPlaced:     promCounter{counter("orders_placed_total", "Total number of orders placed.")},
		OrdersFailed:     promCounter{counter("orders_failed_total", "Total number of order placement failures.")},
		PositionsOpened:  promCounter{counter("positions_opened_total", "Total number of positions opened.")},
		PositionsClosed:  promCounter{counter("positions_closed_total", "Total number of positions closed.")},
		StopLossExits:    promCounter{counter("stop_loss_exits_total", "Total number of stop-loss exits.")},
		TakeProfitExits:  promCounter{counter("take_profit_exits_total", "Total number of take-profit exits.")},
		TrailingRatchets: promCounter{counter("trailing_ratchets_total", "Total number of trailing stop raises.")},
		CooldownSkips:    promCounter{counter("cooldown_skips_total", "Total number of entries skipped by cooldown.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
