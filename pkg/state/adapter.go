package state

import (
	"context"

	"homebase42/internal/aggregator"
	"homebase42/internal/state"
)

// ManagerAdapter wraps internal state.Manager to implement pkg state.Manager
type ManagerAdapter struct {
	internal *state.Manager
}

// WrapManager wraps an internal state.Manager to implement the pkg state.Manager interface
func WrapManager(m *state.Manager) Manager {
	return &ManagerAdapter{internal: m}
}

// UnwrapManager returns the underlying internal manager if available
func UnwrapManager(m Manager) *state.Manager {
	if adapter, ok := m.(*ManagerAdapter); ok {
		return adapter.internal
	}
	return nil
}

func (a *ManagerAdapter) Restore(ctx context.Context) error {
	return a.internal.Restore(ctx)
}

func (a *ManagerAdapter) Get(key string) (Value, error) {
	return a.internal.Get(key)
}

func (a *ManagerAdapter) Publish(ctx context.Context, key string, result aggregator.Result) error {
	return a.internal.Publish(ctx, key, result)
}

func (a *ManagerAdapter) PublishReport(ctx context.Context, report aggregator.Report) error {
	return a.internal.PublishReport(ctx, report)
}

func (a *ManagerAdapter) Subscribe(key string, handler StateChangeHandler) (Subscription, error) {
	// Create wrapper handler that converts between handler types
	internalHandler := func(k string, oldValue, newValue state.Value) {
		handler(k, oldValue, newValue)
	}
	return a.internal.Subscribe(key, internalHandler)
}

func (a *ManagerAdapter) GetAllValues() map[string]Value {
	return a.internal.GetAllValues()
}

func (a *ManagerAdapter) IsReadOnly() bool {
	return a.internal.IsReadOnly()
}
