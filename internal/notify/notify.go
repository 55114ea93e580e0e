// Package notify delivers core events to logs and Redis subscribers.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"warehouse-ledger/internal/core"
)

// LogNotifier writes one structured log line per event.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, e core.Event) {
	n.Logger.WithFields(eventFields(e)).Info(string(e.Type))
}

func eventFields(e core.Event) logrus.Fields {
	f := logrus.Fields{"event": string(e.Type), "at": e.At}
	if e.From != "" {
		f["from"] = e.From
	}
	switch {
	case e.Movement != nil:
		f["movement_id"] = e.Movement.ID
		f["key"] = e.Movement.Key.String()
		f["delta"] = e.Movement.Delta.String()
		f["kind"] = string(e.Movement.Kind)
		if e.Movement.Reference != "" {
			f["reference"] = e.Movement.Reference
		}
	case e.Reservation != nil:
		f["reservation_id"] = e.Reservation.ID
		f["key"] = e.Reservation.Key.String()
		f["quantity"] = e.Reservation.Quantity.String()
		f["owner"] = e.Reservation.Owner
		f["status"] = string(e.Reservation.Status)
	case e.Batch != nil:
		f["batch_id"] = e.Batch.ID
		f["status"] = string(e.Batch.Status)
	case e.Shipment != nil:
		f["shipment_id"] = e.Shipment.ID
		f["status"] = string(e.Shipment.Status)
	}
	return f
}

// Fanout forwards every event to each notifier in order.
type Fanout []core.Notifier

func (f Fanout) Notify(ctx context.Context, e core.Event) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}
