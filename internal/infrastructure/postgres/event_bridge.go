package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openinary/openinary/internal/events"
)

// notifyChannel carries job lifecycle events between processes.
const notifyChannel = "openinary_job_events"

// reconnectDelay spaces out listener reconnect attempts.
const reconnectDelay = time.Second

// EventBridge relays job events across process boundaries over Postgres
// notifications. The worker forwards its local broker onto the channel; the
// API listens and republishes into its own broker, so SSE subscribers see
// transitions produced in other processes.
type EventBridge struct {
	db     DBTX
	pool   *pgxpool.Pool
	broker *events.Broker
}

// NewEventBridge creates a bridge over the given pool and broker.
func NewEventBridge(pool *pgxpool.Pool, broker *events.Broker) *EventBridge {
	return &EventBridge{db: pool, pool: pool, broker: broker}
}

// Forward subscribes to the local broker and relays every published event
// onto the notification channel. It returns the broker subscription ID.
func (b *EventBridge) Forward(ctx context.Context) int {
	return b.broker.Subscribe(func(e events.Event) {
		payload, err := json.Marshal(e)
		if err != nil {
			slog.Warn("failed to encode job event", "kind", e.Kind, "error", err)
			return
		}
		if _, err := b.db.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(payload)); err != nil {
			slog.Warn("failed to forward job event", "kind", e.Kind, "error", err)
		}
	})
}

// Listen republishes channel notifications into the local broker until ctx
// is cancelled, reconnecting after transient failures. A process must not
// both Forward and Listen on the same broker or events would echo.
func (b *EventBridge) Listen(ctx context.Context) error {
	for {
		err := b.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("job event listener disconnected", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *EventBridge) listen(ctx context.Context) error {
	poolConn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	// The connection stays in LISTEN state, so it leaves the pool for the
	// lifetime of the loop.
	conn := poolConn.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen on %s: %w", notifyChannel, err)
	}
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		b.republish(notification.Payload)
	}
}

// republish decodes one notification payload into the local broker.
func (b *EventBridge) republish(payload string) {
	var e events.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		slog.Warn("dropping malformed job event notification", "error", err)
		return
	}
	b.broker.Publish(e)
}
