package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingsTotal counts create/update attempts by operation and result
	// (ok, conflict, missing_fields, not_found, invalid_status, error).
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_bookings_total",
			Help: "Booking create and update attempts by result",
		},
		[]string{"operation", "result"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_notifications_total",
			Help: "Booking notifications by driver and result",
		},
		[]string{"driver", "result"},
	)

	ReconcileDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_reconcile_deleted_total",
			Help: "Appointments removed by duplicate reconciliation, by pass",
		},
		[]string{"pass"},
	)

	SlotQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinic_slot_query_duration_seconds",
			Help:    "Time spent generating slots for one doctor and date",
			Buckets: prometheus.DefBuckets,
		},
	)
)
