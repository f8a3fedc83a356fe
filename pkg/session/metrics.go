package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keystone_sessions_created_total",
		Help: "Total number of sessions created",
	})

	sessionsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keystone_sessions_revoked_total",
		Help: "Total number of sessions revoked by bulk invalidation",
	})

	sessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keystone_sessions_swept_total",
		Help: "Total number of expired sessions removed by the sweeper",
	})
)
