package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// EventsChannel carries every orchestrator event as JSON.
const EventsChannel = "recovery:events"

// EventPublisher forwards orchestrator events to Redis pub/sub.
type EventPublisher struct {
	rdb publisher
	log *slog.Logger
}

func NewEventPublisher(rdb *redis.Client, log *slog.Logger) *EventPublisher {
	return &EventPublisher{rdb: rdb, log: log}
}

// Run publishes events until the channel is closed or ctx is done. Publish
// failures are logged and the event is dropped.
func (p *EventPublisher) Run(ctx context.Context, events <-chan interfaces.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("failed to marshal event", "event", ev.Type, "err", err)
				continue
			}
			if err := p.rdb.Publish(ctx, EventsChannel, payload).Err(); err != nil {
				p.log.Warn("failed to publish event", "event", ev.Type, "err", err)
			}
		}
	}
}
