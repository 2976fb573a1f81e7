package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "barbot_bars_total", Help: "Bars processed by the engine"},
		[]string{"instrument"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "barbot_signals_total", Help: "Signals queued after dedup"},
		[]string{"instrument", "strategy"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "barbot_decisions_total", Help: "Guard decisions by outcome and reason"},
		[]string{"outcome", "reason"},
	)
	ClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "barbot_closes_total", Help: "Closed positions by reason"},
		[]string{"reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "barbot_orders_total", Help: "Orders sent to a broker"},
		[]string{"broker", "instrument", "side"},
	)
	BrokerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "barbot_broker_errors_total", Help: "Broker calls that failed"},
		[]string{"broker", "kind"},
	)
	FeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "barbot_feed_events_total", Help: "Market data feed reconnects and dropped bars"},
		[]string{"provider", "event"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "barbot_equity", Help: "Account equity"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "barbot_open_positions", Help: "Currently open positions"},
	)
)

func init() {
	prometheus.MustRegister(BarsTotal, SignalsTotal, DecisionsTotal, ClosesTotal, OrdersTotal, BrokerErrorsTotal, FeedEventsTotal, Equity, OpenPositions)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
