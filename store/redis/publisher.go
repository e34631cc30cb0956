package redis

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher sends notifications as JSON on a pub/sub channel named after the event
type Publisher struct {
	rdb    Commands
	prefix string
}

// NewPublisher publishes JSON payloads on prefix+event channels
func NewPublisher(rdb Commands, prefix string) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix}
}

func (p *Publisher) Publish(ctx context.Context, event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	channel := p.prefix + event
	if err := p.rdb.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", channel, err)
	}
	return nil
}
