// Package relay carries patches between sessions: a gin server with one
// websocket room per project, and the client transport sessions use to
// reach it.
package relay

import (
	"encoding/json"
)

// FrameType tags a websocket message.
type FrameType string

const (
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"
	FrameSend  FrameType = "send"
	FrameAck   FrameType = "ack"
	FramePatch FrameType = "patch"
)

// Frame is one websocket message in either direction. Join, leave and send
// are answered with an ack carrying the same ID.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Project string          `json:"project,omitempty"`
	Patch   json.RawMessage `json:"patch,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
}
