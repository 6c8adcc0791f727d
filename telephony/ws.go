// Copyright 2026 The CallWave Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telephony bridges websocket media streams to the call engine.
//
// The wire protocol is one JSON frame per message:
//
//	{"event": "start", "call_id": "...", "agent_id": "..."}
//	{"event": "media", "call_id": "...", "seq": 1, "payload": "<base64 pcm16>", "last": false}
//	{"event": "stop", "call_id": "..."}
//
// The bridge answers with "media" frames carrying synthesized audio and a
// "transfer" frame when the engine escalates the call to a human.
package telephony

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/callwave-ai/callengine/engine"
	"github.com/gorilla/websocket"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Event   string `json:"event"`
	CallID  string `json:"call_id"`
	AgentID string `json:"agent_id,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`

	// Payload is base64-encoded little-endian PCM16 audio.
	Payload string `json:"payload,omitempty"`

	// Last marks the final media frame of a caller utterance.
	Last bool `json:"last,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// conn pairs a websocket connection with a write lock; gorilla connections
// permit one concurrent writer only.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Bridge terminates websocket media streams and forwards them to the engine.
// It is the engine's TelephonyCollaborator: outbound audio and transfer
// requests travel back over the same connection the call arrived on.
type Bridge struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	engine *engine.Engine
	conns  map[string]*conn
}

func NewBridge() *Bridge {
	return &Bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[string]*conn),
	}
}

// Attach wires the bridge to the engine it feeds. Must be called before
// serving; the bridge and the engine reference each other, so one side has to
// be connected after construction.
func (b *Bridge) Attach(e *engine.Engine) {
	b.mu.Lock()
	b.engine = e
	b.mu.Unlock()
}

// ServeHTTP upgrades the connection and runs the frame loop until the peer
// disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		engine.Logger().Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &conn{ws: ws}

	var callIDs []string
	defer func() {
		for _, callID := range callIDs {
			b.detach(callID)
			b.engine.NotifyCallEnd(callID, "connection closed")
		}
		if err := ws.Close(); err != nil {
			engine.Logger().Debug("error closing websocket", slog.String("error", err.Error()))
		}
	}()

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				engine.Logger().Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		if err := b.handleFrame(r, c, &frame, &callIDs); err != nil {
			engine.Logger().Warn("telephony frame rejected",
				slog.String("event", frame.Event), slog.String("call_id", frame.CallID),
				slog.String("error", err.Error()))
			if writeErr := c.writeJSON(Frame{
				Event:  "error",
				CallID: frame.CallID,
				Reason: err.Error(),
			}); writeErr != nil {
				return
			}
		}
	}
}

func (b *Bridge) handleFrame(r *http.Request, c *conn, frame *Frame, callIDs *[]string) error {
	switch frame.Event {
	case "start":
		if frame.CallID == "" {
			return errors.New("start frame without call_id")
		}
		b.mu.Lock()
		b.conns[frame.CallID] = c
		b.mu.Unlock()

		if _, err := b.engine.NotifyCallStart(r.Context(), frame.CallID, frame.AgentID); err != nil {
			b.detach(frame.CallID)
			return err
		}
		*callIDs = append(*callIDs, frame.CallID)
		return nil

	case "media":
		data, err := engine.AudioDataFromBase64(frame.Payload)
		if err != nil {
			return err
		}
		return b.engine.PushInboundAudioChunk(frame.CallID, engine.AudioChunk{
			Stage:          engine.StageTelephony,
			Seq:            frame.Seq,
			Data:           data,
			EndOfUtterance: frame.Last,
		})

	case "stop":
		b.detach(frame.CallID)
		b.engine.NotifyCallEnd(frame.CallID, "stop frame")
		return nil

	default:
		return fmt.Errorf("unknown event %q", frame.Event)
	}
}

func (b *Bridge) detach(callID string) {
	b.mu.Lock()
	delete(b.conns, callID)
	b.mu.Unlock()
}

func (b *Bridge) lookup(callID string) (*conn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[callID]
	return c, ok
}

// EmitOutboundAudioChunk implements engine.TelephonyCollaborator.
func (b *Bridge) EmitOutboundAudioChunk(callID string, chunk engine.AudioChunk) error {
	c, ok := b.lookup(callID)
	if !ok {
		return fmt.Errorf("no connection for call %q", callID)
	}
	return c.writeJSON(Frame{
		Event:   "media",
		CallID:  callID,
		Seq:     chunk.Seq,
		Payload: base64.StdEncoding.EncodeToString(chunk.Data.Bytes()),
	})
}

// RequestHumanTransfer implements engine.TelephonyCollaborator.
func (b *Bridge) RequestHumanTransfer(callID string) error {
	c, ok := b.lookup(callID)
	if !ok {
		return fmt.Errorf("no connection for call %q", callID)
	}
	return c.writeJSON(Frame{
		Event:  "transfer",
		CallID: callID,
	})
}
