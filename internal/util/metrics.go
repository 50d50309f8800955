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

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	ShipmentsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipments_dispatched_total",
		Help: "Total number of shipments created with the carrier",
	})

	ShipmentDispatchFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_dispatch_failed_total",
		Help: "Total number of failed shipment dispatch attempts",
	}, []string{"reason"})

	ShipmentDispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipment_dispatch_latency_seconds",
		Help:    "Latency of carrier shipment creation",
		Buckets: prometheus.DefBuckets,
	})

	WebhooksReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carrier_webhooks_received_total",
		Help: "Total number of carrier webhook deliveries received",
	})

	WebhooksDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carrier_webhooks_duplicate_total",
		Help: "Total number of duplicate carrier webhook deliveries dropped",
	})

	WebhookTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrier_webhook_transitions_total",
		Help: "Order status transitions applied from carrier webhooks",
	}, []string{"to_status"})

	WebhookDowngradesBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carrier_webhook_downgrades_blocked_total",
		Help: "Carrier webhook events refused because the order was already terminal",
	})

	CouponApplicationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_applications_total",
		Help: "Total number of successful coupon applications",
	})

	CouponRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_rejections_total",
		Help: "Total number of rejected coupon applications",
	}, []string{"reason"})

	PaymentOrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_orders_created_total",
		Help: "Total number of provider payment orders created",
	})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Total number of payment signature verifications",
	}, []string{"result"})

	SMSSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sms_sent_total",
		Help: "Total number of SMS notifications sent",
	}, []string{"kind"})

	SMSFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sms_failed_total",
		Help: "Total number of failed SMS notification attempts",
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
