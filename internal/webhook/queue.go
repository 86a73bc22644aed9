package webhook

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic carries webhook delivery tasks.
const Topic = "webhook_deliveries"

// Queue is the publisher/subscriber pair the dispatcher runs on.
type Queue struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

func (q *Queue) Close() error {
	pubErr := q.Publisher.Close()
	subErr := q.Subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// NewInProcessQueue keeps tasks in memory. Tasks still queued at shutdown are lost.
func NewInProcessQueue(logger watermill.LoggerAdapter) *Queue {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return &Queue{Publisher: pubSub, Subscriber: pubSub}
}

// NewAMQPQueue puts tasks on a durable RabbitMQ queue so they survive restarts.
func NewAMQPQueue(uri string, logger watermill.LoggerAdapter) (*Queue, error) {
	config := amqp.NewDurableQueueConfig(uri)

	publisher, err := amqp.NewPublisher(config, logger)
	if err != nil {
		return nil, fmt.Errorf("create amqp publisher: %w", err)
	}

	subscriber, err := amqp.NewSubscriber(config, logger)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("create amqp subscriber: %w", err)
	}

	return &Queue{Publisher: publisher, Subscriber: subscriber}, nil
}
