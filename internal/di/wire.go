//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"KronosCast/pkg/config"
	"KronosCast/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		InfraSet,
		DomainSet,
		EdgeSet,
	)
	return &server.App{}, nil
}
