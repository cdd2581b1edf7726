package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"to_status"})

	OrderUndosTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_undos_total",
		Help: "Total number of undone status transitions",
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of checkout stock reservation",
		Buckets: prometheus.DefBuckets,
	})

	MintAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mint_attempts_total",
		Help: "Total number of NFT mint attempts",
	})

	MintSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mint_success_total",
		Help: "Total number of successful NFT mints",
	})

	MintFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mint_failed_total",
		Help: "Total number of failed NFT mints",
	}, []string{"reason"})

	LedgerCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_call_latency_seconds",
		Help:    "Latency of chain gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	LedgerCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_call_errors_total",
		Help: "Total number of chain gateway call failures",
	}, []string{"operation", "kind"})

	ChainEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_events_dropped_total",
		Help: "Chain events dropped because a subscriber buffer was full",
	}, []string{"type"})

	QRLabelsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qr_labels_generated_total",
		Help: "Total number of verification credentials issued",
	})

	QRVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qr_verifications_total",
		Help: "Total number of QR verification attempts",
	}, []string{"result"})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Total number of notification events published",
	}, []string{"type"})

	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of notification deliveries that failed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
