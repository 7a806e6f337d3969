package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"homebase42/internal/aggregator"
	"homebase42/internal/clock"
	"homebase42/internal/ha"
	"homebase42/internal/store"
)

// ErrReadOnlyMode is returned by Publish when the manager must not write to
// Home Assistant. The local cache is still updated.
var ErrReadOnlyMode = errors.New("read-only mode: state not written to Home Assistant")

// StateChangeHandler is called when a signal's value changes
type StateChangeHandler func(key string, oldValue, newValue Value)

// Subscription represents an active state change subscription
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	key     string
	id      int
	manager *Manager
}

func (s *subscription) Unsubscribe() {
	s.manager.unsubscribe(s.key, s.id)
}

type handlerEntry struct {
	id      int
	handler StateChangeHandler
}

// SnapshotStore persists published values between restarts
type SnapshotStore interface {
	Save(ctx context.Context, key string, snap store.Snapshot) error
	Load(ctx context.Context, key string) (store.Snapshot, bool, error)
}

// Manager owns the published signals: it restores them at startup, caches
// the current values and writes new values to Home Assistant
type Manager struct {
	client      ha.HAClient
	store       SnapshotStore
	clock       clock.Clock
	logger      *zap.Logger
	readOnly    bool
	signals     map[string]Signal
	cache       map[string]Value
	cacheMu     sync.RWMutex
	subscribers map[string][]handlerEntry
	nextSubID   int
	subsMu      sync.RWMutex
}

// NewManager creates a new state manager. store may be nil.
func NewManager(client ha.HAClient, snapshots SnapshotStore, clk clock.Clock, logger *zap.Logger, readOnly bool) *Manager {
	signals := SignalsByKey()
	cache := make(map[string]Value, len(signals))
	for key, s := range signals {
		cache[key] = s.Default()
	}

	return &Manager{
		client:      client,
		store:       snapshots,
		clock:       clk,
		logger:      logger.Named("state"),
		readOnly:    readOnly,
		signals:     signals,
		cache:       cache,
		subscribers: make(map[string][]handlerEntry),
	}
}

// IsReadOnly reports whether publishing to Home Assistant is disabled
func (m *Manager) IsReadOnly() bool {
	return m.readOnly
}

// Restore loads the last published value of every signal: from the local
// store first, then from Home Assistant's current state of the signal
// entity, otherwise the default. Restored values are shown until the first
// scan replaces them.
func (m *Manager) Restore(ctx context.Context) error {
	m.logger.Info("Restoring signal values...")

	var haStates map[string]*ha.State
	var haErr error
	fromStore, fromHA := 0, 0

	for _, sig := range AllSignals {
		if value, ok := m.restoreFromStore(ctx, sig); ok {
			m.setCached(sig.Key, value)
			fromStore++
			continue
		}

		if haStates == nil && haErr == nil {
			haStates, haErr = m.fetchStates()
			if haErr != nil {
				m.logger.Warn("Failed to read states for restore", zap.Error(haErr))
			}
		}

		if state, ok := haStates[sig.EntityID]; ok {
			m.setCached(sig.Key, valueFromHAState(sig, state))
			fromHA++
			continue
		}

		m.logger.Debug("No prior value, using default", zap.String("key", sig.Key))
	}

	m.logger.Info("Restore complete",
		zap.Int("from_store", fromStore),
		zap.Int("from_ha", fromHA),
		zap.Int("total", len(AllSignals)))

	if haErr != nil && fromStore < len(AllSignals) {
		return fmt.Errorf("partial restore: %w", haErr)
	}
	return nil
}

func (m *Manager) restoreFromStore(ctx context.Context, sig Signal) (Value, bool) {
	if m.store == nil {
		return Value{}, false
	}

	snap, ok, err := m.store.Load(ctx, sig.Key)
	if err != nil {
		m.logger.Warn("Failed to load stored value", zap.String("key", sig.Key), zap.Error(err))
		return Value{}, false
	}
	if !ok {
		return Value{}, false
	}

	entities := snap.Entities
	if entities == nil {
		entities = []string{}
	}
	return Value{
		Key:         sig.Key,
		EntityID:    sig.EntityID,
		State:       snap.Value,
		Entities:    entities,
		Count:       snap.Count,
		LastUpdated: snap.LastUpdated,
		Restored:    true,
	}, true
}

func (m *Manager) fetchStates() (map[string]*ha.State, error) {
	states, err := m.client.GetAllStates()
	if err != nil {
		return nil, fmt.Errorf("failed to get states: %w", err)
	}

	stateMap := make(map[string]*ha.State, len(states))
	for _, state := range states {
		stateMap[state.EntityID] = state
	}
	return stateMap, nil
}

// valueFromHAState rebuilds a Value from the entity's state and attributes
func valueFromHAState(sig Signal, state *ha.State) Value {
	value := sig.Default()
	value.Restored = true

	if state.IsUnavailable() {
		return value
	}
	value.State = state.State

	if raw, ok := state.Attributes[AttrEntities].([]interface{}); ok {
		entities := make([]string, 0, len(raw))
		for _, e := range raw {
			if s, ok := e.(string); ok {
				entities = append(entities, s)
			}
		}
		value.Entities = entities
	}

	switch c := state.Attributes[AttrCount].(type) {
	case float64:
		value.Count = int(c)
	case int:
		value.Count = c
	default:
		value.Count = len(value.Entities)
		if sig.Kind == KindNumber {
			if n, err := strconv.Atoi(state.State); err == nil {
				value.Count = n
			}
		}
	}

	if ts, ok := state.Attributes[AttrLastUpdated].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			value.LastUpdated = parsed
		}
	}
	return value
}

// Get returns the current value of a signal
func (m *Manager) Get(key string) (Value, error) {
	if _, ok := m.signals[key]; !ok {
		return Value{}, fmt.Errorf("signal %s not found", key)
	}

	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	return m.cache[key], nil
}

// Publish replaces a signal's value with the given result and writes it to
// Home Assistant. On a write failure the previous value is kept. In
// read-only mode the cache is updated and ErrReadOnlyMode is returned.
func (m *Manager) Publish(ctx context.Context, key string, result aggregator.Result) error {
	sig, ok := m.signals[key]
	if !ok {
		return fmt.Errorf("signal %s not found", key)
	}

	newValue := sig.ValueFor(result, m.clock.Now())

	m.cacheMu.Lock()
	oldValue := m.cache[key]
	m.cache[key] = newValue
	m.cacheMu.Unlock()

	if m.readOnly {
		m.logger.Debug("Read-only mode, not publishing",
			zap.String("entity_id", sig.EntityID),
			zap.String("state", newValue.State))
		m.notifySubscribers(key, oldValue, newValue)
		return ErrReadOnlyMode
	}

	if err := m.client.SetState(sig.EntityID, newValue.State, sig.Attributes(newValue)); err != nil {
		// Rollback cache on error
		m.cacheMu.Lock()
		m.cache[key] = oldValue
		m.cacheMu.Unlock()
		return fmt.Errorf("failed to publish %s: %w", sig.EntityID, err)
	}

	if m.store != nil {
		snap := store.Snapshot{
			Value:       newValue.State,
			Entities:    newValue.Entities,
			Count:       newValue.Count,
			LastUpdated: newValue.LastUpdated,
		}
		if err := m.store.Save(ctx, key, snap); err != nil {
			m.logger.Warn("Failed to persist published value", zap.String("key", key), zap.Error(err))
		}
	}

	m.notifySubscribers(key, oldValue, newValue)
	return nil
}

// PublishReport publishes every signal from one scan report. All signals
// are attempted; the returned error combines the individual failures.
func (m *Manager) PublishReport(ctx context.Context, report aggregator.Report) error {
	var errs error
	for _, sig := range AllSignals {
		err := m.Publish(ctx, sig.Key, ResultFor(sig.Source, report))
		if err != nil && !errors.Is(err, ErrReadOnlyMode) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs == nil && m.readOnly {
		return ErrReadOnlyMode
	}
	return errs
}

func (m *Manager) setCached(key string, value Value) {
	m.cacheMu.Lock()
	oldValue := m.cache[key]
	m.cache[key] = value
	m.cacheMu.Unlock()

	m.notifySubscribers(key, oldValue, value)
}

// notifySubscribers notifies all subscribers when the state string or the
// entity list changed
func (m *Manager) notifySubscribers(key string, oldValue, newValue Value) {
	if oldValue.State == newValue.State && equalStrings(oldValue.Entities, newValue.Entities) {
		return
	}

	m.subsMu.RLock()
	handlers := append([]handlerEntry(nil), m.subscribers[key]...)
	m.subsMu.RUnlock()

	for _, entry := range handlers {
		go entry.handler(key, oldValue, newValue)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Subscribe subscribes to value changes of a signal
func (m *Manager) Subscribe(key string, handler StateChangeHandler) (Subscription, error) {
	if _, ok := m.signals[key]; !ok {
		return nil, fmt.Errorf("signal %s not found", key)
	}

	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[key] = append(m.subscribers[key], handlerEntry{id: id, handler: handler})
	m.subsMu.Unlock()

	return &subscription{key: key, id: id, manager: m}, nil
}

func (m *Manager) unsubscribe(key string, id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	entries := m.subscribers[key]
	for i, entry := range entries {
		if entry.id == id {
			m.subscribers[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(m.subscribers[key]) == 0 {
		delete(m.subscribers, key)
	}
}

// GetAllValues returns all cached values
func (m *Manager) GetAllValues() map[string]Value {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	values := make(map[string]Value, len(m.cache))
	for k, v := range m.cache {
		values[k] = v
	}
	return values
}
