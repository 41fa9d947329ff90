// Package worker binds dispatcher commands to the encounter services.
package worker

import (
	"github.com/chiwar/encounter/internal/chase"
	"github.com/chiwar/encounter/internal/combat"
	"github.com/chiwar/encounter/internal/fight"
	"github.com/chiwar/encounter/internal/logging"
	"github.com/chiwar/encounter/internal/parser"
)

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Parser     *parser.Parser
	Combat     *combat.Service
	Chases     *chase.Manager
	Fights     *fight.Service
	LogManager *logging.SlogManager
}

// Manager owns the command handlers.
type Manager struct {
	deps Dependencies
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	if deps.Parser == nil {
		deps.Parser = parser.NewParser(deps.LogManager.Logger())
	}
	return &Manager{deps: deps}
}
