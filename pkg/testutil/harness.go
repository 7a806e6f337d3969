// Package testutil provides testing utilities for Homebase42 plugins.
// This file provides a TestEnv for integration testing.
package testutil

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"homebase42/internal/clock"
	"homebase42/internal/export"
	"homebase42/internal/ha"
	"homebase42/internal/plugins/health"
	"homebase42/internal/state"
	pkgha "homebase42/pkg/ha"
	pkgstate "homebase42/pkg/state"
)

// TestEnv provides a complete test environment for plugin integration tests.
// It creates real internal implementations but exposes them via pkg interfaces.
type TestEnv struct {
	// Public fields - exposed via pkg interfaces
	Server       *MockHAServer
	HAClient     pkgha.Client
	StateManager pkgstate.Manager
	Logger       *zap.Logger
	Clock        *clock.MockClock

	// Internal references for cleanup and advanced usage
	internalClient       *ha.Client
	internalStateManager *state.Manager
	health               *health.Manager
}

// NewTestEnv creates a test environment with a running mock HA server, a
// connected client and a state manager without a restore store. The clock
// starts at the current time and only moves when advanced.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv("127.0.0.1:0", "test_token")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(addr, token string) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockHAServer(addr, token)
	server.SetLogger(logger)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}

	client := ha.NewClient(server.WebSocketURL(), token, logger)
	client.SetRESTURL(server.RESTURL())
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	clk := clock.NewMockClock(time.Now().UTC().Truncate(time.Second))
	stateManager := state.NewManager(client, nil, clk, logger, false)

	return &TestEnv{
		Server:               server,
		HAClient:             pkgha.WrapClient(client),
		StateManager:         pkgstate.WrapManager(stateManager),
		Logger:               logger,
		Clock:                clk,
		internalClient:       client,
		internalStateManager: stateManager,
	}, nil
}

// StartHealth starts the health plugin against the mock server with default
// options. The first scan has completed when it returns.
func (e *TestEnv) StartHealth() (*health.Manager, error) {
	e.health = health.NewManager(e.internalClient, e.internalStateManager, nil, e.Logger, false)
	e.health.SetClock(e.Clock)
	if err := e.health.Start(); err != nil {
		return nil, err
	}
	return e.health, nil
}

// NewExporter returns an export builder reading from the mock server
func (e *TestEnv) NewExporter() *export.Builder {
	return export.NewBuilder(e.internalClient, e.Clock, e.Logger, false)
}

// InitializeHomeStates loads a small house: a light unavailable for four
// hours, a switch unavailable for one hour, a critical and a low battery, a
// healthy battery and a temperature sensor, plus areas and a device.
func (e *TestEnv) InitializeHomeStates() {
	now := e.Clock.Now()
	put := func(entityID, value string, since time.Duration, attrs map[string]interface{}) {
		e.Server.PutState(&EntityState{
			EntityID:    entityID,
			State:       value,
			Attributes:  attrs,
			LastChanged: now.Add(-since),
			LastUpdated: now.Add(-since),
		})
	}

	put("light.porch", "unavailable", 4*time.Hour, map[string]interface{}{"friendly_name": "Porch"})
	put("switch.kettle", "unavailable", time.Hour, nil)
	put("sensor.front_door_lock_battery", "12", time.Hour, map[string]interface{}{"device_class": "battery", "unit_of_measurement": "%"})
	put("sensor.hall_motion_battery", "45", time.Hour, map[string]interface{}{"device_class": "battery", "unit_of_measurement": "%"})
	put("sensor.remote_battery", "90", time.Hour, map[string]interface{}{"device_class": "battery", "unit_of_measurement": "%"})
	put("sensor.living_room_temperature", "21.5", time.Hour, map[string]interface{}{"device_class": "temperature"})

	ground := "ground"
	hall := "hall"
	e.Server.AddArea(Area{AreaID: "living_room", Name: "Living Room", FloorID: &ground})
	e.Server.AddArea(Area{AreaID: hall, Name: "Hall", FloorID: &ground})
	e.Server.AddDevice(Device{ID: "dev-hall-motion", Name: "Hall Motion", AreaID: &hall})
	e.Server.SetRegistryEntry(RegistryEntry{EntityID: "sensor.hall_motion_battery", Platform: "zha", DeviceID: "dev-hall-motion"})
	e.Server.SetRegistryEntry(RegistryEntry{EntityID: "sensor.living_room_temperature", Platform: "zha", AreaID: "living_room"})
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.health != nil {
		e.health.Stop()
	}
	if e.internalClient != nil {
		e.internalClient.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetPublished returns all states published to the mock server.
func (e *TestEnv) GetPublished() []PublishedState {
	return e.Server.GetPublished()
}

// ClearPublished clears the recorded publishes.
func (e *TestEnv) ClearPublished() {
	e.Server.ClearPublished()
}
