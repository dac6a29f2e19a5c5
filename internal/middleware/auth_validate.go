package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/roomchat/internal/logger"
)

type validateRequest struct {
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Signature string `json:"signature,omitempty"`
	Method    string `json:"method"`
	Path      string `json:"path"`
}

type validateResponse struct {
	UserID string `json:"user_id"`
}

// AuthServiceValidate делегирует проверку внешнему сервису авторизации (POST /internal/validate).
// Принимает bearer-токен или подписанную сессию (session_id, timestamp, signature) из заголовков или query.
func AuthServiceValidate(authServiceURL string, client *http.Client) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	endpoint := strings.TrimSuffix(authServiceURL, "/") + "/internal/validate"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := validateRequest{
				Token:     bearerToken(r),
				SessionID: headerOrQuery(r, "X-Session-Id", "session_id"),
				Timestamp: headerOrQuery(r, "X-Timestamp", "timestamp"),
				Signature: headerOrQuery(r, "X-Signature", "signature"),
				Method:    r.Method,
				Path:      r.URL.Path,
			}
			if body.Token == "" && (body.SessionID == "" || body.Timestamp == "" || body.Signature == "") {
				unauthorized(w)
				return
			}
			jsonBody, err := json.Marshal(body)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "internal")
				return
			}
			req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, endpoint, bytes.NewReader(jsonBody))
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "internal")
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				logger.Errorf("auth service validate: %v", err)
				unauthorized(w)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				unauthorized(w)
				return
			}
			var result validateResponse
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.UserID == "" {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), result.UserID)))
		})
	}
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

// DevAuth доверяет ?user_id= / X-User-Id без проверки. Только для -dev.
func DevAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := headerOrQuery(r, "X-User-Id", "user_id")
		if userID == "" {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
