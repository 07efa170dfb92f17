package gateway

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Codec maps messages to websocket frames. Text frames carry JSON and binary
// frames carry CBOR.
type Codec interface {
	FrameType() int
	Decode(data []byte, req *Request) error
	Encode(msg Message) ([]byte, error)
}

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBORCodec()
)

// CodecFor returns the codec for a websocket frame type.
func CodecFor(frameType int) (Codec, error) {
	switch frameType {
	case websocket.TextMessage:
		return JSON, nil
	case websocket.BinaryMessage:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unsupported frame type %d", frameType)
	}
}

type jsonCodec struct{}

func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Decode(data []byte, req *Request) error {
	return json.Unmarshal(data, req)
}

func (jsonCodec) Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("gateway: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		// client ids may be maps; keep them JSON compatible
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("gateway: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) FrameType() int { return websocket.BinaryMessage }

func (c cborCodec) Decode(data []byte, req *Request) error {
	return c.dec.Unmarshal(data, req)
}

func (c cborCodec) Encode(msg Message) ([]byte, error) {
	return c.enc.Marshal(msg)
}
