package app

import (
	"context"
	"fmt"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (a *App) Health() *HealthService {
	return NewHealthService(a)
}

// Check reports "up" when the last scan finished without warnings, and
// "degraded" when a configured collaborator is missing or the last scan
// recorded warnings.
func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}
	if err := ctx.Err(); err != nil {
		status.Status = "down"
		return status
	}
	cfg := s.app.Settings()

	if s.app.graphs != nil {
		status.Components["callgraph"] = "ok"
	} else {
		status.Components["callgraph"] = "disabled"
	}

	switch {
	case s.app.completer != nil:
		status.Components["llm"] = "ok"
	case cfg.LLM.Enabled:
		status.Status = "degraded"
		status.Components["llm"] = "missing but enabled in config"
	default:
		status.Components["llm"] = "disabled"
	}

	switch {
	case s.app.static != nil:
		status.Components["static"] = "ok (" + s.app.static.Name() + ")"
	case cfg.Static.SemgrepEnabled:
		status.Status = "degraded"
		status.Components["static"] = "missing but enabled in config"
	default:
		status.Components["static"] = "disabled"
	}

	switch {
	case s.app.store != nil:
		status.Components["cache"] = "ok"
	case cfg.Cache.IsEnabled():
		status.Status = "degraded"
		status.Components["cache"] = "missing but enabled in config"
	default:
		status.Components["cache"] = "disabled"
	}

	if last, ok := s.app.LastRun(); ok {
		status.Components["last_scan"] = fmt.Sprintf("%s (%d findings, %d warnings)", last.FinishedAt.Format(time.RFC3339), last.Findings, last.Warnings)
		if last.Warnings > 0 {
			status.Status = "degraded"
		}
	} else {
		status.Components["last_scan"] = "none"
	}
	return status
}

// RunSummary is what the app remembers about its most recent scan.
type RunSummary struct {
	RunID      string
	FinishedAt time.Time
	Findings   int
	Warnings   int
}

func (a *App) LastRun() (RunSummary, bool) {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	if a.last == nil {
		return RunSummary{}, false
	}
	return *a.last, true
}
