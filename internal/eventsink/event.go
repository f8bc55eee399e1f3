// Package eventsink implements the engine's outward-facing event pipeline:
// the typed {Type, Name, ShowName, ID} envelope and per-type data payloads
// fixed by the C ABI's JSON schema, a per-session dispatcher that serializes
// delivery, and the two delivery channels (in-process callback, remote
// WebSocket/TCP socket) that receive identical event streams.
package eventsink

import "encoding/json"

// EventType is one of the fixed event type strings the C ABI schema names.
type EventType string

const (
	TypeStart    EventType = "start"
	TypeStartOne EventType = "startOne"
	TypeUpdate   EventType = "update"
	TypeEndOne   EventType = "endOne"
	TypeEnd      EventType = "end"
	TypeMsg      EventType = "msg"
	TypeErr      EventType = "err"
)

// Lossless reports whether events of this type must never be dropped by a
// saturated per-session queue (only `update` is lossy).
func (t EventType) Lossless() bool {
	return t != TypeUpdate
}

// Event is the fixed envelope carried alongside every data payload.
type Event struct {
	Type     EventType `json:"Type"`
	Name     string    `json:"Name,omitempty"`
	ShowName string    `json:"ShowName,omitempty"`
	ID       string    `json:"ID"`
}

// StartOneData is the payload for startOne and endOne events.
type StartOneData struct {
	URL      string `json:"URL"`
	SavePath string `json:"SavePath"`
	ShowName string `json:"ShowName"`
	Index    int    `json:"Index"`
	Total    int64  `json:"Total"`
}

// UpdateData is the payload for update events. Total is -1 when the size is
// not yet known (single-stream fallback before the body completes).
type UpdateData struct {
	Downloaded int64 `json:"Downloaded"`
	Total      int64 `json:"Total"`
}

// MsgData is the payload for informational msg events.
type MsgData struct {
	Text string `json:"Text"`
}

// ErrData is the payload for err events.
type ErrData struct {
	Error string `json:"Error"`
}

// EmptyData is the payload for start and end events: an empty JSON object.
type EmptyData struct{}

// Encode marshals the event envelope and its data payload independently,
// matching the two-string callback signature `(event_json, data_json)`.
func Encode(ev Event, data any) (eventJSON, dataJSON string, err error) {
	eb, err := json.Marshal(ev)
	if err != nil {
		return "", "", err
	}
	db, err := json.Marshal(data)
	if err != nil {
		return "", "", err
	}
	return string(eb), string(db), nil
}

// EncodeFrame marshals the combined {"event":..,"data":..} object used by
// the remote sink's wire format.
func EncodeFrame(ev Event, data any) ([]byte, error) {
	return json.Marshal(struct {
		Event Event `json:"event"`
		Data  any   `json:"data"`
	}{Event: ev, Data: data})
}
