package gateway

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/collab-ot/pkg/ot"
)

func TestJSONDecodeSubmit(t *testing.T) {
	var req Request
	require.NoError(t, JSON.Decode([]byte(`{
		"type": "submit",
		"fileId": 4,
		"baseVersion": 2,
		"components": [{"retain": 1}, {"insert": "é"}, {"delete": 2}],
		"clientId": {"tab": 1}
	}`), &req))

	assert.Equal(t, TypeSubmit, req.Type)
	id, err := ParseFileID(req.FileID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
	assert.Equal(t, ot.Operation{ot.Retain(1), ot.Insert("é"), ot.Delete(2)}, req.Components)
	assert.Equal(t, map[string]any{"tab": float64(1)}, req.ClientID)
}

func TestCBORRequest(t *testing.T) {
	raw, err := cbor.Marshal(map[string]any{
		"type":        "submit",
		"fileId":      uint64(4),
		"baseVersion": uint64(0),
		"components":  []map[string]any{{"insert": "hi"}},
		"clientId":    map[string]any{"n": "a"},
	})
	require.NoError(t, err)

	var req Request
	require.NoError(t, CBOR.Decode(raw, &req))
	id, err := ParseFileID(req.FileID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
	base, err := ParseBaseVersion(req.BaseVersion)
	require.NoError(t, err)
	assert.Equal(t, 0, base)
	assert.Equal(t, ot.Operation{ot.Insert("hi")}, req.Components)
	assert.Equal(t, map[string]any{"n": "a"}, req.ClientID)
}

func TestCBOREncodeMessage(t *testing.T) {
	raw, err := CBOR.Encode(AppliedMessage(4, 3, ot.Operation{ot.Retain(2), ot.Insert("x")}, "c1"))
	require.NoError(t, err)

	var got struct {
		Type       string         `cbor:"type"`
		FileID     int64          `cbor:"fileId"`
		Version    int            `cbor:"version"`
		Components []ot.Component `cbor:"components"`
		ClientID   string         `cbor:"clientId"`
	}
	require.NoError(t, cbor.Unmarshal(raw, &got))
	assert.Equal(t, "applied", got.Type)
	assert.Equal(t, int64(4), got.FileID)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, []ot.Component{ot.Retain(2), ot.Insert("x")}, got.Components)
	assert.Equal(t, "c1", got.ClientID)
}

func TestCodecFor(t *testing.T) {
	c, err := CodecFor(websocket.TextMessage)
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, c.FrameType())

	c, err = CodecFor(websocket.BinaryMessage)
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, c.FrameType())

	_, err = CodecFor(websocket.PingMessage)
	assert.Error(t, err)
}
