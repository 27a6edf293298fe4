package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// publisherFactory returns nil when no publisher exists for topic.
type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

func pubSubPublishers(client pubSubClient) publisherFactory {
	return func(topic string) publisher {
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		return topicPublisher{p}
	}
}

type topicPublisher struct {
	p *gcppubsub.Publisher
}

func (t topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	res := t.p.Publish(ctx, msg)
	if res == nil {
		return nil
	}
	return pendingResult{res}
}

type pendingResult struct {
	r *gcppubsub.PublishResult
}

func (p pendingResult) Get(ctx context.Context) (string, error) {
	if p.r == nil {
		return "", errors.New("publish result is nil")
	}
	return p.r.Get(ctx)
}
