/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors updated by game hubs.
type Metrics struct {
	GamesStarted   prometheus.Counter
	GamesCompleted prometheus.Counter
	Flips          *prometheus.CounterVec
	PairsResolved  *prometheus.CounterVec
	ActiveGames    prometheus.Gauge
	FinalScores    prometheus.Histogram
	Uploads        prometheus.Counter
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		GamesStarted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "memorybox",
				Name:      "games_started_total",
				Help:      "Total number of games started",
			},
		),
		GamesCompleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "memorybox",
				Name:      "games_completed_total",
				Help:      "Total number of games played to completion",
			},
		),
		Flips: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "memorybox",
				Name:      "flips_total",
				Help:      "Total flip requests",
			},
			[]string{"result"}, // result=accepted/rejected
		),
		PairsResolved: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "memorybox",
				Name:      "pairs_resolved_total",
				Help:      "Total resolved pairs",
			},
			[]string{"outcome"}, // outcome=match/mismatch
		),
		ActiveGames: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "memorybox",
				Name:      "active_games",
				Help:      "Number of game hubs currently held in memory",
			},
		),
		FinalScores: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "memorybox",
				Name:      "final_score",
				Help:      "Final score of completed games",
				Buckets:   prometheus.LinearBuckets(200, 200, 10),
			},
		),
		Uploads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "memorybox",
				Name:      "uploaded_images_total",
				Help:      "Total images accepted from players",
			},
		),
	}
}

func (m *Metrics) flip(err error) {
	if err != nil {
		m.Flips.WithLabelValues("rejected").Inc()

		return
	}
	m.Flips.WithLabelValues("accepted").Inc()
}

func (m *Metrics) resolved(matched bool) {
	if matched {
		m.PairsResolved.WithLabelValues("match").Inc()

		return
	}
	m.PairsResolved.WithLabelValues("mismatch").Inc()
}

func serveMetrics(reg prometheus.Gatherer) httprouter.Handle {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		h.ServeHTTP(w, r)
	}
}
