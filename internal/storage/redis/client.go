package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/roomchat/internal/logger"
)

// ChannelPrefix отделяет каналы чата от прочих пользователей того же Redis.
const ChannelPrefix = "chat:"

// Broker реализует storage.Broker поверх Redis PUBLISH / PSUBSCRIBE,
// чтобы несколько экземпляров API доставляли события своим локальным сессиям.
type Broker struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Broker{cli: cli}, nil
}

func (b *Broker) Close() error {
	return b.cli.Close()
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.cli.Publish(ctx, ChannelPrefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe подписывается на все каналы чата; Receive дожидается подтверждения,
// дальше сообщения читаются в отдельной горутине до отмены ctx.
func (b *Broker) Subscribe(ctx context.Context, deliver func(topic string, payload []byte)) error {
	ps := b.cli.PSubscribe(ctx, ChannelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	ch := ps.Channel()
	go func() {
		defer func() {
			if err := ps.Close(); err != nil {
				logger.Errorf("redis pubsub close: %v", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				deliver(strings.TrimPrefix(msg.Channel, ChannelPrefix), []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// FlushDB очищает текущую БД Redis (для тестов).
func (b *Broker) FlushDB(ctx context.Context) error {
	return b.cli.FlushDB(ctx).Err()
}

// Ping проверяет соединение (для /health).
func (b *Broker) Ping(ctx context.Context) error {
	return b.cli.Ping(ctx).Err()
}
