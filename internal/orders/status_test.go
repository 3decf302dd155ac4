package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusPending, StatusCancelled, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusShipped, StatusCancelled, true},

		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusPending, StatusPending, false},
		{StatusShipped, StatusProcessing, false},
		{StatusDelivered, StatusPending, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{Status("ARCHIVED"), StatusPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStatusTerminalAndParse(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, Status("bogus").Terminal())

	s, ok := ParseStatus(" shipped ")
	assert.True(t, ok)
	assert.Equal(t, StatusShipped, s)

	_, ok = ParseStatus("lost")
	assert.False(t, ok)
}
