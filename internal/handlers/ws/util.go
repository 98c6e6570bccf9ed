package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var errMissingType = errors.New("frame has no type")

// Serialize wraps a client message in its {type, payload} envelope.
func Serialize(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SerializedMessage{Type: msg.GetType(), Payload: payload})
}

// Deserialize decodes a {type, payload} frame into its registered message.
// A missing or null payload leaves the message zero-valued.
func Deserialize(data []byte) (Message, error) {
	var env SerializedMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, errMissingType
	}

	typ, ok := typeRegistry[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", env.Type)
	}
	msg := reflect.New(typ).Interface().(Message)
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return msg, nil
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%s payload: %w", env.Type, err)
	}
	return msg, nil
}
