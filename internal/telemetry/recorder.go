package telemetry

import (
	"context"
	"errors"

	"fleetops/internal/broadcast"
	"fleetops/internal/logging"
)

// ErrSubscriptionDropped is returned when the hub pruned the recorder for falling behind.
var ErrSubscriptionDropped = errors.New("recorder subscription dropped")

// Recorder persists drone-location-update events as position rows.
type Recorder struct {
	writer Writer
}

// NewRecorder returns a recorder writing to w.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{writer: w}
}

// Run consumes sub until ctx is done or the subscription closes. Events
// already queued are written as one batch.
func (r *Recorder) Run(ctx context.Context, sub *broadcast.Subscription) error {
	log := logging.FromContext(ctx)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				if sub.Dropped() {
					return ErrSubscriptionDropped
				}
				return nil
			}
			rows := appendRow(nil, e)
			rows, open := drainRows(sub, rows)
			if err := WriteAll(r.writer, rows); err != nil {
				log.Error("position write failed", "rows", len(rows), "error", err)
			}
			if !open {
				if sub.Dropped() {
					return ErrSubscriptionDropped
				}
				return nil
			}
		}
	}
}

func appendRow(rows []Row, e broadcast.Event) []Row {
	if row, ok := RowFromEvent(e); ok {
		rows = append(rows, row)
	}
	return rows
}

// drainRows collects events already buffered without blocking.
func drainRows(sub *broadcast.Subscription, rows []Row) ([]Row, bool) {
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return rows, false
			}
			rows = appendRow(rows, e)
		default:
			return rows, true
		}
	}
}
