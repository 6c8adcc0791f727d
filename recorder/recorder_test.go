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

package recorder

import (
	"bytes"
	"testing"

	"github.com/callwave-ai/callengine/engine"
	"github.com/callwave-ai/callengine/enginetesting"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCapturesAndForwards(t *testing.T) {
	capture := enginetesting.NewCaptureTelephony()
	rec := New(capture)

	chunks := []engine.AudioChunk{
		{Stage: engine.StageSynthesis, Seq: 1, Data: engine.AudioData{1, 2, 3}},
		{Stage: engine.StageSynthesis, Seq: 2, Data: engine.AudioData{4, 5}},
	}
	for _, chunk := range chunks {
		require.NoError(t, rec.EmitOutboundAudioChunk("call-1", chunk))
	}

	assert.Equal(t, 5, rec.Len("call-1"))
	assert.Len(t, capture.OutboundChunks("call-1"), 2)
}

func TestRecorderEncode(t *testing.T) {
	rec := New(enginetesting.NewCaptureTelephony())

	samples := engine.AudioData{100, -100, 32767, -32768}
	err := rec.EmitOutboundAudioChunk("call-1", engine.AudioChunk{
		Stage: engine.StageSynthesis, Seq: 1, Data: samples,
	})
	require.NoError(t, err)

	encoded, err := rec.Encode("call-1")
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(encoded))
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, engine.DefaultAudioSampleRate, buf.Format.SampleRate)
	assert.Equal(t, engine.DefaultAudioChannels, buf.Format.NumChannels)
	assert.Equal(t, samples.Int(), buf.Data)
}

func TestRecorderDiscard(t *testing.T) {
	rec := New(enginetesting.NewCaptureTelephony())

	err := rec.EmitOutboundAudioChunk("call-1", engine.AudioChunk{
		Stage: engine.StageSynthesis, Seq: 1, Data: engine.AudioData{1, 2},
	})
	require.NoError(t, err)
	require.Equal(t, 2, rec.Len("call-1"))

	rec.Discard("call-1")
	assert.Zero(t, rec.Len("call-1"))
}

func TestRecorderForwardsTransfer(t *testing.T) {
	capture := enginetesting.NewCaptureTelephony()
	rec := New(capture)

	require.NoError(t, rec.RequestHumanTransfer("call-1"))
	assert.Equal(t, 1, capture.TransferCount("call-1"))
}
