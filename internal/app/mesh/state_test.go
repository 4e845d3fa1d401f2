package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		to   State
		ok   bool
	}{
		{StateAbsent, EventDial, StateConnecting, true},
		{StateAbsent, EventAccept, StateConnected, true},
		{StateConnecting, EventStream, StateConnected, true},
		{StateConnected, EventStream, StateConnected, true},
		{StateConnecting, EventClose, StateClosed, true},
		{StateConnected, EventDial, StateConnected, false},
		{StateAbsent, EventStream, StateAbsent, false},
	}
	for _, tc := range cases {
		next, ok := Next(tc.from, tc.ev)
		assert.Equal(t, tc.ok, ok, "%s on %d", tc.from, tc.ev)
		assert.Equal(t, tc.to, next, "%s on %d", tc.from, tc.ev)
	}
}

func TestClosedIgnoresEverything(t *testing.T) {
	for _, ev := range []Event{EventDial, EventAccept, EventStream, EventClose} {
		next, ok := Next(StateClosed, ev)
		assert.False(t, ok)
		assert.Equal(t, StateClosed, next)
	}
}
