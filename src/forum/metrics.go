package forum

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var threadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "soch_forum_threads_total",
	Help: "New recruitment threads, by what happened to them.",
}, []string{"outcome"})

var bumpOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "soch_forum_bumps_total",
	Help: "Bump attempts, by result.",
}, []string{"outcome"})

var strikeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "soch_forum_strikes_total",
	Help: "Chat messages removed from recruitment threads, by consequence.",
}, []string{"outcome"})

var activeBans = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "soch_forum_active_bans",
	Help: "Bump bans in effect as of the last sweep.",
})
