package worker

import (
	"context"
	"log"

	"commerce-service/internal/broker"
	"commerce-service/internal/models"
	"commerce-service/internal/notify"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes order lifecycle events and notifies the
// customer by SMS. Failures are logged and dropped; there is no retry.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	sms          *notify.Client
	shippedFlow  string
	statusFlow   string
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, sms *notify.Client, shippedFlow, statusFlow string) *NotificationWorker {
	w := &NotificationWorker{
		consumer:    consumer,
		sms:         sms,
		shippedFlow: shippedFlow,
		statusFlow:  statusFlow,
		logger:      util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderShipped(w.handleOrderShipped)
	eventHandler.OnOrderStatusChanged(w.handleStatusChanged)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error {
	if event.CustomerPhone == "" {
		return nil
	}

	vars := map[string]string{
		"name":    event.CustomerName,
		"awb":     event.AWBCode,
		"courier": event.CourierName,
	}
	if err := w.sms.SendSMS(ctx, event.CustomerPhone, w.shippedFlow, vars); err != nil {
		util.SMSFailedTotal.Inc()
		w.logger.Error("Failed to send shipped SMS",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		// Acked anyway; notification loss is acceptable, redelivery
		// storms are not.
		return nil
	}

	util.SMSSentTotal.WithLabelValues("shipped").Inc()
	return nil
}

func (w *NotificationWorker) handleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	// Only terminal good/bad news is worth a message.
	if event.NewStatus != models.OrderStatusDelivered && event.NewStatus != models.OrderStatusReturned {
		return nil
	}
	if event.CustomerPhone == "" {
		return nil
	}

	vars := map[string]string{
		"name":   event.CustomerName,
		"status": event.NewStatus,
		"awb":    event.AWBCode,
	}
	if err := w.sms.SendSMS(ctx, event.CustomerPhone, w.statusFlow, vars); err != nil {
		util.SMSFailedTotal.Inc()
		w.logger.Error("Failed to send status SMS",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		return nil
	}

	util.SMSSentTotal.WithLabelValues("status").Inc()
	return nil
}
