package events

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	BrokerRedis    = "redis"
	BrokerRabbitMQ = "rabbitmq"
)

type BrokerConfig struct {
	Kind      string
	RabbitURL string
	Exchange  string
}

// Bus pairs a Publisher with a way to create consumers on the same transport.
type Bus struct {
	Publisher Publisher
	redis     *redis.Client
	rabbit    *RabbitMQ
}

// NewBus selects Redis Streams or RabbitMQ. The Redis client is required for
// the redis broker and ignored otherwise.
func NewBus(cfg BrokerConfig, client *redis.Client) (*Bus, error) {
	switch cfg.Kind {
	case "", BrokerRedis:
		if client == nil {
			return nil, fmt.Errorf("redis broker needs a redis client")
		}
		return &Bus{Publisher: NewRedisPublisher(client), redis: client}, nil
	case BrokerRabbitMQ:
		rabbit := NewRabbitMQ(cfg.RabbitURL, cfg.Exchange)
		if err := rabbit.Connect(); err != nil {
			return nil, err
		}
		return &Bus{Publisher: NewRabbitPublisher(rabbit), rabbit: rabbit}, nil
	default:
		return nil, fmt.Errorf("unknown event broker %q", cfg.Kind)
	}
}

func (b *Bus) Subscriber(cfg SubscriberConfig) Consumer {
	if b.rabbit != nil {
		return NewRabbitSubscriber(b.rabbit, cfg)
	}
	return NewSubscriber(b.redis, cfg)
}

func (b *Bus) Close() {
	if b.rabbit != nil {
		b.rabbit.Close()
	}
}
