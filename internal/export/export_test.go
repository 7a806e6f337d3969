package export

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homebase42/internal/clock"
	"homebase42/internal/ha"
)

var testNow = time.Date(2025, 3, 9, 8, 30, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func seed(mock *ha.MockClient) {
	mock.SetArea(&ha.AreaRegistryEntry{AreaID: "kitchen", Name: "Kitchen", FloorID: strPtr("ground")})
	mock.SetArea(&ha.AreaRegistryEntry{AreaID: "hall", Name: "Hall", FloorID: strPtr("ground")})
	mock.SetArea(&ha.AreaRegistryEntry{AreaID: "garden", Name: "Garden"})
	mock.SetDevice(&ha.DeviceRegistryEntry{ID: "dev-motion", Name: "Hall Motion", AreaID: strPtr("hall")})

	mock.PutState(&ha.State{
		EntityID: "light.kitchen",
		State:    "on",
		Attributes: map[string]interface{}{
			"friendly_name":      "Kitchen Light",
			"supported_features": float64(40),
			"brightness":         float64(200),
			"icon":               "mdi:lightbulb",
		},
		LastChanged: testNow.Add(-time.Minute),
		LastUpdated: testNow.Add(-time.Minute),
	})
	mock.PutState(&ha.State{
		EntityID: "sensor.motion_battery",
		State:    "80",
		Attributes: map[string]interface{}{
			"device_class":        "battery",
			"unit_of_measurement": "%",
		},
	})
	mock.PutState(&ha.State{EntityID: "light.attic", State: "off"})
	mock.PutState(&ha.State{EntityID: "sun.sun", State: "above_horizon"})

	mock.SetRegistryEntry(&ha.EntityRegistryEntry{EntityID: "light.kitchen", Platform: "hue", AreaID: "kitchen"})
	mock.SetRegistryEntry(&ha.EntityRegistryEntry{EntityID: "sensor.motion_battery", Platform: "zha", DeviceID: "dev-motion", EntityCategory: strPtr("diagnostic")})
	mock.SetRegistryEntry(&ha.EntityRegistryEntry{EntityID: "light.attic", Platform: "hue", DisabledBy: strPtr("user"), HiddenBy: strPtr("user")})
}

func newBuilder(mock *ha.MockClient, readOnly bool) *Builder {
	return NewBuilder(mock, clock.NewMockClock(testNow), zap.NewNop(), readOnly)
}

func TestBuild(t *testing.T) {
	mock := ha.NewMockClient()
	seed(mock)

	snap, err := newBuilder(mock, false).Build(context.Background(), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "2025-03-09T08:30:00Z", snap.ExportTimestamp)
	assert.Equal(t, "2025.1.0", snap.HomeAssistantVersion)
	assert.Equal(t, 4, snap.TotalEntities)
	assert.Equal(t, map[string]int{"light": 2, "sensor": 1, "sun": 1}, snap.Summary.ByDomain)
	assert.Equal(t, map[string]int{"Kitchen": 1, "Hall": 1, NoArea: 2}, snap.Summary.ByArea)
	assert.Equal(t, []string{"Kitchen", "Hall"}, snap.FloorsAndAreas["ground"])
	assert.Equal(t, []string{"Garden"}, snap.FloorsAndAreas[NoFloor])

	lights := snap.StatesByDomain["light"]
	require.Len(t, lights, 2)
	assert.Equal(t, "light.attic", lights[0].EntityID, "sorted by entity id")

	kitchen := lights[1]
	assert.Equal(t, "Kitchen Light", kitchen.FriendlyName)
	assert.Equal(t, 40, kitchen.SupportedFeatures)
	assert.Equal(t, "hue", kitchen.Platform)
	assert.Equal(t, map[string]interface{}{"brightness": float64(200)}, kitchen.Attributes)
	assert.NotEmpty(t, kitchen.LastChanged)

	attic := lights[0]
	require.NotNil(t, attic.RegistryContext)
	assert.True(t, attic.Disabled)
	assert.True(t, attic.Hidden)
	assert.Nil(t, attic.Attributes)

	battery := snap.StatesByDomain["sensor"][0]
	assert.Equal(t, "Hall", battery.Area, "area comes from the device")
	assert.Equal(t, "battery", battery.DeviceClass)
	assert.Equal(t, "%", battery.Unit)
	assert.Equal(t, "diagnostic", *battery.EntityCategory)

	sun := snap.StatesByDomain["sun"][0]
	assert.Nil(t, sun.RegistryContext, "no registry entry")
	assert.Empty(t, sun.LastChanged, "zero time omitted")

	events := mock.GetFiredEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventExportComplete, events[0].EventType)
	assert.Equal(t, 4, events[0].Data["entity_count"])
}

func TestBuild_RegistryKeysInJSON(t *testing.T) {
	mock := ha.NewMockClient()
	seed(mock)

	snap, err := newBuilder(mock, false).Build(context.Background(), DefaultOptions())
	require.NoError(t, err)

	encode := func(e Entity) map[string]interface{} {
		data, err := json.Marshal(e)
		require.NoError(t, err)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	}

	kitchen := encode(snap.StatesByDomain["light"][1])
	require.Contains(t, kitchen, "entity_category")
	assert.Nil(t, kitchen["entity_category"], "null when the entry has no category")
	assert.Contains(t, kitchen, "original_name")
	assert.Equal(t, false, kitchen["disabled"])
	assert.Equal(t, "hue", kitchen["platform"])

	sun := encode(snap.StatesByDomain["sun"][0])
	for _, key := range []string{"entity_category", "disabled", "hidden", "platform", "original_name"} {
		assert.NotContains(t, sun, key)
	}
}

func TestBuild_WithoutOptionalParts(t *testing.T) {
	mock := ha.NewMockClient()
	seed(mock)

	snap, err := newBuilder(mock, false).Build(context.Background(), Options{})
	require.NoError(t, err)

	for _, entities := range snap.StatesByDomain {
		for _, e := range entities {
			assert.Nil(t, e.Attributes, e.EntityID)
			assert.Nil(t, e.RegistryContext, e.EntityID)
			assert.Empty(t, e.LastUpdated, e.EntityID)
		}
	}
	assert.Equal(t, "Kitchen", snap.StatesByDomain["light"][1].Area)
}

func TestBuild_ReadOnlyDoesNotFireEvent(t *testing.T) {
	mock := ha.NewMockClient()
	seed(mock)

	_, err := newBuilder(mock, true).Build(context.Background(), DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, mock.GetFiredEvents())
}

func TestBuild_FetchErrors(t *testing.T) {
	t.Run("states", func(t *testing.T) {
		mock := ha.NewMockClient()
		mock.SetStatesError(errors.New("not connected"))
		_, err := newBuilder(mock, false).Build(context.Background(), DefaultOptions())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get states")
		assert.Empty(t, mock.GetFiredEvents())
	})

	t.Run("registry", func(t *testing.T) {
		mock := ha.NewMockClient()
		mock.SetRegistryError(errors.New("timeout"))
		_, err := newBuilder(mock, false).Build(context.Background(), DefaultOptions())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newBuilder(ha.NewMockClient(), false).Build(ctx, DefaultOptions())
		assert.ErrorIs(t, err, context.Canceled)
	})
}
