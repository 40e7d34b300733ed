// Package notify implements the downstream event contract (spec §6):
// after a successful sync job, publish the set of changed thread ids
// and changed author ids so the search indexer can pull fresh read
// models without being part of the core transaction. Shaped after the
// teacher's internal/tracking.Publisher (marshal to JSON, fire over a
// message channel, log failures rather than fail the caller).
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// ChangeEvent is the event contract payload (spec §6): the ids an
// indexer needs to know changed, scoped to one completed job.
type ChangeEvent struct {
	MailingListID int32   `json:"mailing_list_id"`
	JobID         string  `json:"job_id"`
	ThreadIDs     []int32 `json:"thread_ids"`
	AuthorIDs     []int32 `json:"author_ids"`
}

// Publisher delivers a ChangeEvent to whatever is listening. A nil
// *RedisPublisher client is valid and turns Publish into a no-op, so
// operators without Redis configured still get a working dispatcher.
type Publisher interface {
	Publish(ctx context.Context, evt ChangeEvent)
}

// RedisPublisher publishes ChangeEvents on a single pub/sub channel via
// go-redis. Delivery is at-most-once and fire-and-forget: a indexer
// that isn't subscribed simply misses the notification and falls back
// to its own polling, per spec §6 ("the indexer pulls ... it is not in
// the core transaction").
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher returns a Publisher. client may be nil, in which
// case Publish becomes a no-op (matches distlock.NewLock's "nil means
// this backend is unavailable" convention).
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish serializes evt and publishes it to the configured channel.
// Failures are logged, never returned: a missed notification is not a
// reason to fail an otherwise-completed sync job.
func (p *RedisPublisher) Publish(ctx context.Context, evt ChangeEvent) {
	if p == nil || p.client == nil {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("notify marshal change event failed", "mailing_list_id", evt.MailingListID, "error", err)
		return
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		logger.Error("notify publish change event failed", "mailing_list_id", evt.MailingListID, "channel", p.channel, "error", fmt.Errorf("publish: %w", err))
	}
}
