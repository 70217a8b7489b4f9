package database

import (
	"context"

	"github.com/lib/pq"

	"github.com/earmark-commerce/earmark/internal/apierror"
)

// MarkEventProcessed claims the (order, event type, scope) tuple by inserting
// it first. The insert either lands, meaning this caller owns the event and
// must process it, or hits the unique constraint, meaning a previous delivery
// already did. Returns true exactly once per tuple.
func (d Datasource) MarkEventProcessed(ctx context.Context, orderID, eventType, scope string) (bool, error) {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO processed_payment_events (order_id, event_type, scope)
		VALUES ($1, $2, $3)
	`, orderID, eventType, scope)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record processed event", err)
	}
	return true, nil
}
