package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebase42/internal/export"
)

// TestScenario_Export builds an export over the real client and checks the
// area resolution and the completion event
func TestScenario_Export(t *testing.T) {
	env := setupEnv(t)

	snap, err := env.NewExporter().Build(t.Context(), export.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 6, snap.TotalEntities)
	assert.Equal(t, "2025.1.0", snap.HomeAssistantVersion)
	assert.Equal(t, map[string]int{"light": 1, "switch": 1, "sensor": 4}, snap.Summary.ByDomain)
	assert.Equal(t, 1, snap.Summary.ByArea["Hall"], "area from device")
	assert.Equal(t, 1, snap.Summary.ByArea["Living Room"])
	assert.Equal(t, 4, snap.Summary.ByArea[export.NoArea])
	assert.Equal(t, []string{"Living Room", "Hall"}, snap.FloorsAndAreas["ground"])

	sensors := snap.StatesByDomain["sensor"]
	require.Len(t, sensors, 4)
	assert.Equal(t, "sensor.front_door_lock_battery", sensors[0].EntityID)
	assert.Equal(t, "%", sensors[0].Unit)

	events := env.Server.GetFiredEvents()
	require.Len(t, events, 1)
	assert.Equal(t, export.EventExportComplete, events[0].EventType)
	assert.Equal(t, float64(6), events[0].Data["entity_count"])
}
