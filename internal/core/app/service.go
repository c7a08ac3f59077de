package app

import (
	"context"
	"fmt"

	"repoaudit/internal/core/ports"
	"repoaudit/internal/engine/rules"
)

type analysisService struct {
	app *App
}

var _ ports.AnalysisService = (*analysisService)(nil)

func NewAnalysisService(app *App) ports.AnalysisService {
	return &analysisService{app: app}
}

func (a *App) AnalysisService() ports.AnalysisService {
	return NewAnalysisService(a)
}

func (s *analysisService) RunScan(ctx context.Context, req ports.ScanRequest) (ports.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.ScanResult{}, err
	}
	if s.app == nil {
		return ports.ScanResult{}, fmt.Errorf("app is required")
	}
	if s.app.Config == nil {
		return ports.ScanResult{}, fmt.Errorf("config is required")
	}
	return s.app.Scan(ctx, req)
}

func (s *analysisService) Catalog() *rules.Catalog {
	if s.app == nil {
		return rules.DefaultCatalog()
	}
	return s.app.Catalog()
}

func (s *analysisService) Close() error {
	if s == nil || s.app == nil {
		return nil
	}
	return s.app.Close()
}
