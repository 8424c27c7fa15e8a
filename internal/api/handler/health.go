package handler

import (
	"context"
	"net/http"
)

type HealthResponse struct {
	Status string `json:"status"`
}

// Pinger verifies a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
	})
}

// DatabaseHealth reports liveness of the job store's database.
func DatabaseHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			JSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
		if err := db.Ping(r.Context()); err != nil {
			JSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
		JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
