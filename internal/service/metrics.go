package service

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "choropleth_sessions_active",
		Help: "Open viewer sessions",
	})
	EngineChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "choropleth_engine_changes_total",
		Help: "Map engine state changes by kind",
	}, []string{"kind"})
	BusDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "choropleth_bus_dropped_total",
		Help: "Session events dropped for slow subscribers",
	})
)

func init() {
	prometheus.MustRegister(SessionsActive, EngineChanges, BusDropped)
}
