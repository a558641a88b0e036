package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the whole probe run.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency (database, redis).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently and returns 200 when all pass,
// 503 otherwise. A probe still running at the deadline counts as failed.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[int]error, len(probes))
		wg      sync.WaitGroup
	)
	for i, probe := range probes {
		i, probe := i, probe // per-iteration copies (go 1.21 loop semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runProbe(ctx, probe)
			mu.Lock()
			results[i] = err
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	resp.Components = make(map[string]componentStatus, len(probes))
	for i, probe := range probes {
		err, finished := results[i]
		switch {
		case !finished:
			resp.Status = "unhealthy"
			resp.Components[probe.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			resp.Status = "unhealthy"
			resp.Components[probe.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			resp.Components[probe.Name()] = componentStatus{Status: "healthy"}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Check(ctx)
}
