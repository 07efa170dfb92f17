package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/astromechza/collab-ot/pkg/ot"
)

type MessageType string

const (
	TypeJoin    MessageType = "join"
	TypeLeave   MessageType = "leave"
	TypeSubmit  MessageType = "submit"
	TypeReady   MessageType = "ready"
	TypeApplied MessageType = "applied"
	TypeResync  MessageType = "resync"
	TypeError   MessageType = "error"
)

// Request is a client message. Numeric fields are decoded loosely so that
// bad values can be answered with an error instead of closing the
// connection.
type Request struct {
	Type        MessageType  `json:"type" cbor:"type"`
	FileID      any          `json:"fileId,omitempty" cbor:"fileId,omitempty"`
	BaseVersion any          `json:"baseVersion,omitempty" cbor:"baseVersion,omitempty"`
	Components  ot.Operation `json:"components,omitempty" cbor:"components,omitempty"`
	ClientID    any          `json:"clientId,omitempty" cbor:"clientId,omitempty"`
}

// Message is a server message.
type Message struct {
	Type       MessageType  `json:"type" cbor:"type"`
	FileID     any          `json:"fileId" cbor:"fileId"`
	Version    *int         `json:"version,omitempty" cbor:"version,omitempty"`
	Content    *string      `json:"content,omitempty" cbor:"content,omitempty"`
	Components ot.Operation `json:"components,omitempty" cbor:"components,omitempty"`
	ClientID   any          `json:"clientId,omitempty" cbor:"clientId,omitempty"`
	Message    string       `json:"message,omitempty" cbor:"message,omitempty"`
}

func ReadyMessage(fileID int64, version int, content string) Message {
	return Message{Type: TypeReady, FileID: fileID, Version: &version, Content: &content}
}

func AppliedMessage(fileID int64, version int, components ot.Operation, clientID any) Message {
	return Message{Type: TypeApplied, FileID: fileID, Version: &version, Components: components, ClientID: clientID}
}

func ResyncMessage(fileID int64, version int) Message {
	return Message{Type: TypeResync, FileID: fileID, Version: &version}
}

// ErrorMessage echoes fileID back unless it is a value JSON cannot carry.
func ErrorMessage(fileID any, message string) Message {
	switch f := fileID.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			fileID = nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			fileID = nil
		}
	}
	return Message{Type: TypeError, FileID: fileID, Message: message}
}

var errInvalidNumber = errors.New("must be a finite integer")

// maxExactInteger is the largest integer every client number type holds
// exactly.
const maxExactInteger = 1 << 53

func toInteger(v any) (int64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		if n > maxExactInteger {
			return 0, errInvalidNumber
		}
		f = float64(n)
	case int:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, errInvalidNumber
		}
	default:
		return 0, errInvalidNumber
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > maxExactInteger {
		return 0, errInvalidNumber
	}
	return int64(f), nil
}

// ParseFileID validates a client supplied file id.
func ParseFileID(v any) (int64, error) {
	id, err := toInteger(v)
	if err != nil {
		return 0, fmt.Errorf("fileId %w", err)
	}
	if id < 0 {
		return 0, fmt.Errorf("fileId must not be negative")
	}
	return id, nil
}

func ParseBaseVersion(v any) (int, error) {
	n, err := toInteger(v)
	if err != nil {
		return 0, fmt.Errorf("baseVersion %w", err)
	}
	return int(n), nil
}

// ValidateClientID checks that a client id survives every codec. It is
// echoed to the whole group, and JSON peers cannot receive values such as
// NaN or maps with non-string keys.
func ValidateClientID(v any) error {
	if _, err := json.Marshal(v); err != nil {
		return errors.New("clientId must be representable as JSON")
	}
	return nil
}
