package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Rides created in requested state"})
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ride_transitions_total", Help: "Committed ride transitions by destination status"},
		[]string{"status"},
	)
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race for a ride"})
	FanoutLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "fanout_latency_seconds", Help: "Candidate search plus offer push latency"})

	OffersSent    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_sent_total", Help: "new-ride offers delivered to a live connection"})
	OffersSkipped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_skipped_total", Help: "new-ride offers for candidates without a live connection"})
	PushDropped   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_dropped_total", Help: "Pushes not delivered, by reason"},
		[]string{"reason"},
	)
	EventsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "events_pushed_total", Help: "Events handed to a live connection"},
		[]string{"event"},
	)
	DispatchQueueDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "dispatch_queue_dropped_total", Help: "Post-commit tasks dropped because the queue was full"})
	RideEventsDropped    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ride_events_dropped_total", Help: "Ride events not published because the publish queue was full"})
	RideEventsFailed     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ride_events_failed_total", Help: "Ride events whose publish returned an error"})

	DriversOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Number of online drivers"})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "connections_active", Help: "Actors with a registered live connection"})
	LocationUpdates   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_updates_total", Help: "Driver location reports by source"},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
