package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/im-coalescer-service/config"
)

// Provider builds the bus endpoints for one transport.
type Provider interface {
	// Subscriber consumes topic from exchange through a queue of its own.
	Subscriber(queue, exchange, topic string) (message.Subscriber, error)
	// Publisher publishes to exchange; the topic becomes the routing key.
	Publisher(exchange string) (message.Publisher, error)
	Close() error
}

// NewProvider returns the AMQP provider, or the in-process bus when no
// broker URL is configured.
func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) Provider {
	if cfg.AMQP.URL == "" {
		return NewChannelProvider(logger)
	}
	return &amqpProvider{url: cfg.AMQP.URL, logger: logger}
}

type amqpProvider struct {
	url    string
	logger watermill.LoggerAdapter
	opened []interface{ Close() error }
}

func topicExchange(exchange string) amqp.ExchangeConfig {
	return amqp.ExchangeConfig{
		GenerateName: func(string) string { return exchange },
		Type:         "topic",
		Durable:      true,
	}
}

func (p *amqpProvider) Subscriber(queue, exchange, topic string) (message.Subscriber, error) {
	cfg := amqp.NewDurablePubSubConfig(p.url, amqp.GenerateQueueNameConstant(queue))
	cfg.Exchange = topicExchange(exchange)
	cfg.QueueBind.GenerateRoutingKey = func(string) string { return topic }
	cfg.Marshaler = routingKeyMarshaler{}

	sub, err := amqp.NewSubscriber(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp subscriber %s: %w", queue, err)
	}
	p.opened = append(p.opened, sub)
	return sub, nil
}

func (p *amqpProvider) Publisher(exchange string) (message.Publisher, error) {
	cfg := amqp.NewDurablePubSubConfig(p.url, nil)
	cfg.Exchange = topicExchange(exchange)
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	pub, err := amqp.NewPublisher(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp publisher %s: %w", exchange, err)
	}
	p.opened = append(p.opened, pub)
	return pub, nil
}

func (p *amqpProvider) Close() error {
	var firstErr error
	for _, c := range p.opened {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ChannelProvider is the in-process bus: a single gochannel instance where
// topics match literally.
type ChannelProvider struct {
	ch *gochannel.GoChannel
}

func NewChannelProvider(logger watermill.LoggerAdapter) *ChannelProvider {
	return &ChannelProvider{
		ch: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger),
	}
}

func (p *ChannelProvider) Subscriber(_, _, _ string) (message.Subscriber, error) {
	return p.ch, nil
}

func (p *ChannelProvider) Publisher(string) (message.Publisher, error) {
	return p.ch, nil
}

func (p *ChannelProvider) Close() error { return p.ch.Close() }
