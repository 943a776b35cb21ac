package storage

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tandem/domain"
)

// BoardChannel is the redis channel carrying events for one project.
func BoardChannel(projectID string) string {
	return "board:" + projectID
}

// BoardBus publishes board events over redis pub/sub and lets stream
// handlers subscribe to a project.
type BoardBus struct {
	client *redis.Client
}

func NewBoardBus(client *redis.Client) *BoardBus {
	return &BoardBus{client: client}
}

// Send publishes ev on its project's channel.
func (b *BoardBus) Send(ctx context.Context, ev domain.BoardEvent) error {
	payload, err := sonic.MarshalString(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, BoardChannel(ev.ProjectID), payload).Err()
}

// Subscribe opens a subscription to projectID's channel. The caller closes it.
func (b *BoardBus) Subscribe(ctx context.Context, projectID string) *redis.PubSub {
	return b.client.Subscribe(ctx, BoardChannel(projectID))
}
