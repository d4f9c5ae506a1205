package live

import (
	"bytes"
	"encoding/json"
)

const (
	mtSample = "sample"
	mtEvent  = "event"
	mtAck    = "ack"
	mtError  = "error"
	mtLive   = "live"
)

// Message is the envelope of every frame written to a websocket.
type Message struct {
	MessageType string `json:"type"`
	Body        any    `json:"body,omitempty"`
}

// inbound is a frame sent by a relay. Seq is echoed back in the reply; when
// the relay omits it the server numbers frames itself.
type inbound struct {
	MessageType string          `json:"type"`
	Seq         *int64          `json:"seq,omitempty"`
	Body        json.RawMessage `json:"body"`
}

type ackBody struct {
	Seq int64 `json:"seq"`
}

type errorBody struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// decode keeps numbers as json.Number so integer fields survive untouched.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
