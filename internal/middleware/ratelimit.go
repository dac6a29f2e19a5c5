package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// slidingWindow: счётчик попыток по ключу в скользящем окне.
type slidingWindow struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

func newSlidingWindow(max int, window time.Duration) *slidingWindow {
	return &slidingWindow{times: make(map[string][]time.Time), max: max, window: window, now: time.Now}
}

func (s *slidingWindow) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cutoff := now.Add(-s.window)
	kept := s.times[key][:0]
	for _, t := range s.times[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= s.max {
		s.times[key] = kept
		return false
	}
	s.times[key] = append(kept, now)
	return true
}

// clientIP берёт первый адрес из X-Real-Ip / X-Forwarded-For, иначе RemoteAddr.
func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return strings.TrimSpace(x)
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		first, _, _ := strings.Cut(x, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimit ограничивает число запросов (например, попыток открыть /ws) с одного IP и,
// если пользователь уже известен, с одного user_id. 429 при превышении.
func RateLimit(max int, window time.Duration) func(http.Handler) http.Handler {
	byIP := newSlidingWindow(max, window)
	byUser := newSlidingWindow(max, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.allow(clientIP(r)) {
				writeJSONError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			if userID := GetUserID(r.Context()); userID != "" && !byUser.allow("u:"+userID) {
				writeJSONError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
