package plugin

import (
	"time"

	"go.uber.org/zap"

	"homebase42/internal/clock"
	"homebase42/internal/config"
	"homebase42/internal/shadowstate"
	pkgha "homebase42/pkg/ha"
	pkgstate "homebase42/pkg/state"
)

// Context provides dependencies to plugins during initialization.
//
// HAClient and StateManager use the interface types from pkg/ha and
// pkg/state; the internal implementations satisfy them.
type Context struct {
	// HAClient provides access to Home Assistant states, registries and
	// the event bus.
	HAClient pkgha.Client

	// StateManager owns the published signals.
	StateManager pkgstate.Manager

	// Logger is a structured logger. Plugins should use
	// logger.Named("pluginname") for namespacing.
	Logger *zap.Logger

	// ReadOnly indicates that nothing should be written to Home Assistant.
	ReadOnly bool

	// Options serves the integration options and notifies on reload.
	Options *config.Loader

	// Clock is the time source; tests pass a mock clock.
	Clock clock.Clock

	// Shadow collects plugin shadow states for the HTTP API.
	Shadow *shadowstate.Tracker

	// ScanInterval is how often periodic plugins run.
	ScanInterval time.Duration
}

// NewContext creates a new plugin context with all required dependencies.
func NewContext(
	haClient pkgha.Client,
	stateManager pkgstate.Manager,
	logger *zap.Logger,
	readOnly bool,
	options *config.Loader,
	clk clock.Clock,
	shadow *shadowstate.Tracker,
	scanInterval time.Duration,
) *Context {
	return &Context{
		HAClient:     haClient,
		StateManager: stateManager,
		Logger:       logger,
		ReadOnly:     readOnly,
		Options:      options,
		Clock:        clk,
		Shadow:       shadow,
		ScanInterval: scanInterval,
	}
}
