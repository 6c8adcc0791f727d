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

// Package recorder captures the agent side of calls as WAV files.
package recorder

import (
	"fmt"
	"sync"

	"github.com/callwave-ai/callengine/engine"
	"github.com/callwave-ai/callengine/util"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder wraps a telephony collaborator and captures every outbound audio
// chunk per call before forwarding it. Encode renders what has been captured
// so far as a WAV file.
type Recorder struct {
	next engine.TelephonyCollaborator

	mu    sync.Mutex
	calls map[string]engine.AudioData
}

func New(next engine.TelephonyCollaborator) *Recorder {
	return &Recorder{
		next:  next,
		calls: make(map[string]engine.AudioData),
	}
}

// EmitOutboundAudioChunk implements engine.TelephonyCollaborator.
func (r *Recorder) EmitOutboundAudioChunk(callID string, chunk engine.AudioChunk) error {
	r.mu.Lock()
	r.calls[callID] = append(r.calls[callID], chunk.Data...)
	r.mu.Unlock()
	return r.next.EmitOutboundAudioChunk(callID, chunk)
}

// RequestHumanTransfer implements engine.TelephonyCollaborator.
func (r *Recorder) RequestHumanTransfer(callID string) error {
	return r.next.RequestHumanTransfer(callID)
}

// Encode returns the audio captured for callID as a WAV file.
func (r *Recorder) Encode(callID string) ([]byte, error) {
	r.mu.Lock()
	buffer := r.calls[callID]
	r.mu.Unlock()

	var wavBuf util.WriteSeekerBuffer
	enc := wav.NewEncoder(
		&wavBuf,
		engine.DefaultAudioSampleRate,
		8*engine.DefaultAudioSampleWidth,
		engine.DefaultAudioChannels,
		1, // PCM
	)

	err := enc.Write(&audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: engine.DefaultAudioChannels,
			SampleRate:  engine.DefaultAudioSampleRate,
		},
		Data:           buffer.Int(),
		SourceBitDepth: 8 * engine.DefaultAudioSampleWidth,
	})
	if err != nil {
		return nil, fmt.Errorf("error writing WAV file: %w", err)
	}
	if err = enc.Close(); err != nil {
		return nil, fmt.Errorf("error closing WAV file: %w", err)
	}
	return wavBuf.Bytes(), nil
}

// Discard drops the captured audio for callID.
func (r *Recorder) Discard(callID string) {
	r.mu.Lock()
	delete(r.calls, callID)
	r.mu.Unlock()
}

// Len reports how many samples have been captured for callID.
func (r *Recorder) Len(callID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[callID])
}
