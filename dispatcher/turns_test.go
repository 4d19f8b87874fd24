package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnRegistryCancelsPriorTurn(t *testing.T) {
	reg := newTurnRegistry()
	parent := context.Background()

	first, endFirst := reg.begin(parent, "web:u1")
	require.NoError(t, first.Err())

	second, endSecond := reg.begin(parent, "web:u1")
	assert.ErrorIs(t, first.Err(), context.Canceled, "new turn cancels the in-flight one")
	assert.NoError(t, second.Err())
	assert.Equal(t, 1, reg.inFlight())

	// The superseded turn finishing must not evict the current one.
	endFirst()
	assert.NoError(t, second.Err())
	assert.Equal(t, 1, reg.inFlight())

	endSecond()
	assert.Equal(t, 0, reg.inFlight())
}

func TestTurnRegistryKeysAreIndependent(t *testing.T) {
	reg := newTurnRegistry()
	parent := context.Background()

	a, endA := reg.begin(parent, "web:u1")
	b, endB := reg.begin(parent, "telegram:u2")
	defer endA()
	defer endB()

	assert.NoError(t, a.Err())
	assert.NoError(t, b.Err())
	assert.Equal(t, 2, reg.inFlight())
}
