package cli

import (
	coreapp "repoaudit/internal/core/app"
	"repoaudit/internal/core/config"
)

type appFactory interface {
	New(cfg *config.Config, paths config.ResolvedPaths) (*coreapp.App, error)
}

type coreAppFactory struct{}

func (coreAppFactory) New(cfg *config.Config, paths config.ResolvedPaths) (*coreapp.App, error) {
	return coreapp.New(cfg, paths)
}
