package ha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebase42/internal/ha"
)

func TestClientAdapter(t *testing.T) {
	mock := ha.NewMockClient()
	mock.PutState(&ha.State{EntityID: "sensor.door_battery", State: "12"})

	client := WrapClient(mock)
	assert.Same(t, mock, UnwrapClient(client))

	states, err := client.GetAllStates()
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "12", states[0].State)

	require.NoError(t, client.SetState("sensor.homebase42_battery_low_count", "0", nil))
	assert.NotNil(t, mock.LastPublished("sensor.homebase42_battery_low_count"))

	got := make(chan string, 1)
	_, err = client.SubscribeEvents(ha.EventEntityRegistryUpdated, func(event *Event) {
		got <- event.EventType
	})
	require.NoError(t, err)
	mock.SimulateEvent(ha.EventEntityRegistryUpdated)
	assert.Equal(t, ha.EventEntityRegistryUpdated, <-got)
}
