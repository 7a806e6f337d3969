// Package state provides the public interface definitions for the published
// signals. These interfaces can be imported by external packages (including
// private plugin implementations).
//
// The actual implementation is in internal/state, which is wrapped by these
// public interfaces for external consumption.
package state

import (
	"context"

	"homebase42/internal/aggregator"
	internalstate "homebase42/internal/state"
)

// Value is the current published value of a signal.
type Value = internalstate.Value

// StateChangeHandler is called when a signal's value changes.
type StateChangeHandler func(key string, oldValue, newValue Value)

// Subscription represents an active state change subscription.
type Subscription interface {
	Unsubscribe()
}

// Manager defines the interface for the published signals.
// This interface matches the public methods of internal/state.Manager.
type Manager interface {
	Restore(ctx context.Context) error
	Get(key string) (Value, error)
	Publish(ctx context.Context, key string, result aggregator.Result) error
	PublishReport(ctx context.Context, report aggregator.Report) error
	Subscribe(key string, handler StateChangeHandler) (Subscription, error)
	GetAllValues() map[string]Value
	IsReadOnly() bool
}
