package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeadLetter publishes body to queue's dead-letter queue with the
// headers spec §6 requires: x-reason always, x-field when the rejection
// names a specific field, and x-original-queue for traceability. It goes
// through the main exchange; the routing key is the DLQ name itself
// (`<queue><dlxSuffix>`), the key declareTopology binds the DLQ under.
func DeadLetter(ctx context.Context, pub Publisher, dlxSuffix, originalQueue, reason, field string, body []byte) error {
	headers := map[string]string{
		"x-reason":         reason,
		"x-original-queue": originalQueue,
	}
	if field != "" {
		headers["x-field"] = field
	}
	return pub.Publish(ctx, Message{
		ID:         uuid.NewString(),
		RoutingKey: originalQueue + dlxSuffix,
		Body:       body,
		Headers:    headers,
		Persistent: true,
		Timestamp:  time.Now(),
	})
}
