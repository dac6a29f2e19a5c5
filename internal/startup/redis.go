package startup

import (
	"context"
	"time"

	redisstorage "github.com/roomchat/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к шине событий Redis с повторами.
// logPrefix добавляется к сообщениям лога (например "api: ").
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Broker, error) {
	return withRetry(maxWait, logPrefix, "redis connect", func() (*redisstorage.Broker, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return redisstorage.New(ctx, redisURL)
	})
}
