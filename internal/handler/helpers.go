package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/roomchat/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// Pinger is anything whose liveness /health reports (the Postgres pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns 200 "ok" when every dependency answers, 503 otherwise.
func Health(deps ...Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, d := range deps {
			if err := d.Ping(ctx); err != nil {
				logger.Errorf("health: %v", err)
				writeError(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
