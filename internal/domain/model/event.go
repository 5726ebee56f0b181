// Package model contains domain models passed between layers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a deal notification pushed by the CRM webhook.
// EntityID is empty when the payload carried no usable id.
type Event struct {
	EntityID string
}

type wireEvent struct {
	ObjectID json.RawMessage `json:"objectId"`
	EntityID json.RawMessage `json:"entityId"`
}

// UnmarshalJSON accepts objectId or entityId, as a string or a number.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := rawID(w.ObjectID)
	if err != nil {
		return err
	}
	if id == "" {
		if id, err = rawID(w.EntityID); err != nil {
			return err
		}
	}
	e.EntityID = id
	return nil
}

func rawID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("entity id must be a string or number: %w", err)
		}
		return n.String(), nil
	}
}

// ParseEvents decodes a webhook body holding either one event or an array.
func ParseEvents(body []byte) ([]Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrNoEvents
	}
	if body[0] == '[' {
		var events []Event
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return []Event{ev}, nil
}

// HasEntityID reports whether at least one event carries an id.
func HasEntityID(events []Event) bool {
	for _, ev := range events {
		if ev.EntityID != "" {
			return true
		}
	}
	return false
}
