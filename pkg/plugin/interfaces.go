// Package plugin provides the plugin system interfaces and registry.
// Plugins register themselves with the global registry from init()
// functions, so a binary's plugin set is chosen by its imports, and a
// private implementation can override a public one by priority.
package plugin

import "homebase42/internal/shadowstate"

// Plugin is the core interface that all plugins must implement.
type Plugin interface {
	// Name returns the unique identifier for this plugin.
	Name() string

	// Start begins the plugin's operation: restores state, subscribes to
	// events and starts background goroutines.
	Start() error

	// Stop shuts the plugin down and waits for its goroutines to exit.
	Stop()
}

// ShadowStateProvider is an optional interface for plugins that record
// their inputs and outputs for observability.
type ShadowStateProvider interface {
	GetShadowState() shadowstate.PluginShadowState
}

// Factory is a function that creates a new plugin instance given a context.
type Factory func(ctx *Context) (Plugin, error)
