package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz runs every dependency check in parallel and reports each result.
func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(h.Checks))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range h.Checks {
		g.Go(func() error {
			err := check(gctx)
			status := "ok"
			if err != nil {
				status = err.Error()
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, readiness{Status: "unavailable", Checks: results})
		return
	}
	writeJSON(w, http.StatusOK, readiness{Status: "ready", Checks: results})
}
