package health

import (
	"fmt"

	"homebase42/internal/shadowstate"
	pkgha "homebase42/pkg/ha"
	"homebase42/pkg/plugin"
	pkgstate "homebase42/pkg/state"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        "health",
		Description: "Scans entity states and publishes unavailable and battery signals",
		Priority:    plugin.PriorityDefault,
		Order:       20,
		Factory:     createPlugin,
	})
}

// createPlugin creates a new health plugin instance from the plugin context.
func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	// Unwrap the interfaces to get the internal types
	haClient := pkgha.UnwrapClient(ctx.HAClient)
	if haClient == nil {
		return nil, fmt.Errorf("health plugin requires internal ha.HAClient")
	}

	stateManager := pkgstate.UnwrapManager(ctx.StateManager)
	if stateManager == nil {
		return nil, fmt.Errorf("health plugin requires internal state.Manager")
	}

	manager := NewManager(haClient, stateManager, ctx.Options, ctx.Logger, ctx.ReadOnly)
	if ctx.Clock != nil {
		manager.SetClock(ctx.Clock)
	}
	manager.SetInterval(ctx.ScanInterval)

	p := &pluginAdapter{manager: manager}
	if ctx.Shadow != nil {
		ctx.Shadow.RegisterPluginProvider(p.Name(), p.GetShadowState)
	}
	return p, nil
}

// pluginAdapter wraps the Manager to implement the plugin.Plugin interface.
type pluginAdapter struct {
	manager *Manager
}

func (p *pluginAdapter) Name() string {
	return "health"
}

func (p *pluginAdapter) Start() error {
	return p.manager.Start()
}

func (p *pluginAdapter) Stop() {
	p.manager.Stop()
}

// Implement plugin.ShadowStateProvider
func (p *pluginAdapter) GetShadowState() shadowstate.PluginShadowState {
	return p.manager.GetShadowState()
}

// GetManager returns the underlying Manager instance.
func (p *pluginAdapter) GetManager() *Manager {
	return p.manager
}
