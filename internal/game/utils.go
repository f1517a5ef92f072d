// internal/game/utils.go
package game

import (
	"encoding/json"
	"fmt"
)

// EncodeEvent marshals a GameEvent into the JSON frame sent to clients.
func EncodeEvent(ev GameEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s event: %w", ev.Type, err)
	}
	return data, nil
}

// EventType reads only the type of an encoded event.
func EventType(data []byte) (GameEventType, error) {
	var head struct {
		Type GameEventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("reading event type: %w", err)
	}
	return head.Type, nil
}
