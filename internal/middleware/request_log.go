package middleware

import (
	"net/http"
	"time"

	"github.com/roomchat/internal/logger"
)

// RequestLog пишет длительность запроса (медленные или все при debug) и каждый ответ 5xx.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrapWriter(w)
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, time.Now())()
		next.ServeHTTP(sw, r)
		if sw.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d", r.Method, r.URL.Path, sw.status)
		}
	})
}
