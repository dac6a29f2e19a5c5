package startup

import (
	"fmt"
	"time"

	"github.com/roomchat/internal/logger"
)

var initialBackoff = 2 * time.Second

// withRetry повторяет connect с экспоненциальной паузой (2s → 30s), пока не истечёт maxWait.
// После дедлайна возвращает последнюю ошибку; вызывающий решает, завершать ли процесс.
func withRetry[T any](maxWait time.Duration, logPrefix, what string, connect func() (T, error)) (T, error) {
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for {
		v, err := connect()
		if err == nil {
			return v, nil
		}
		if !time.Now().Before(deadline) {
			var zero T
			return zero, fmt.Errorf("%s%s gave up after %v: %w", logPrefix, what, maxWait, err)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
