package pubsub

import (
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// RoutingKeyMetadata carries the broker routing key of a consumed delivery.
const RoutingKeyMetadata = "x-routing-key"

// routingKeyMarshaler exposes the delivery routing key as metadata, where
// intake resolves the recipient from it.
type routingKeyMarshaler struct {
	amqp.DefaultMarshaler
}

func (m routingKeyMarshaler) Unmarshal(d amqp091.Delivery) (*message.Message, error) {
	msg, err := m.DefaultMarshaler.Unmarshal(d)
	if err != nil {
		return nil, err
	}
	if d.RoutingKey != "" {
		msg.Metadata.Set(RoutingKeyMetadata, d.RoutingKey)
	}
	return msg, nil
}
