package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/collab-ot/pkg/gateway"
	"github.com/astromechza/collab-ot/pkg/ot"
)

func TestReceiveTracksServerCopy(t *testing.T) {
	c := &client{fileID: 1, name: "t"}
	assert.False(t, c.receive(gateway.ReadyMessage(1, 3, "abc")))
	assert.False(t, c.receive(gateway.AppliedMessage(1, 4, ot.Operation{ot.Insert("X")}, "other")))
	version, content := c.state()
	assert.Equal(t, 4, version)
	assert.Equal(t, "Xabc", content)

	// a gap in versions forces a rejoin
	assert.True(t, c.receive(gateway.AppliedMessage(1, 6, ot.Operation{ot.Insert("Y")}, "other")))
	_, ok := c.nextEdit()
	assert.False(t, ok)

	assert.False(t, c.receive(gateway.ReadyMessage(1, 6, "fresh")))
	assert.True(t, c.receive(gateway.ResyncMessage(1, 6)))
}

func TestNextEditAppliesToCopy(t *testing.T) {
	c := &client{fileID: 1, name: "t"}
	c.receive(gateway.ReadyMessage(1, 0, "héllo"))
	for i := 0; i < 200; i++ {
		req, ok := c.nextEdit()
		require.True(t, ok)
		assert.Equal(t, gateway.TypeSubmit, req.Type)
		assert.Equal(t, 0, req.BaseVersion)
		op := req.Components
		require.NoError(t, op.Validate())
		_, err := ot.Apply("héllo", op)
		require.NoError(t, err, op.String())
	}
}

func TestRandomEditOnEmptyContent(t *testing.T) {
	for i := 0; i < 50; i++ {
		op := randomEdit("")
		out, err := ot.Apply("", op)
		require.NoError(t, err)
		assert.Len(t, []rune(out), 1)
	}
}
